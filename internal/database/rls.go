package database

import (
	"context"
	"strconv"

	"gorm.io/gorm"
)

const (
	setUserIDSQL  = `SELECT set_config('app.current_user_id', ?, true)`
	setIsAdminSQL = `SELECT set_config('app.is_admin', ?, true)`
)

// Scope identifies on whose behalf a unit of work runs.
type Scope struct {
	UserID string
	Admin  bool
}

// Owned restricts q to rows owned by the scope's user. Admin scopes see everything.
func (s Scope) Owned(q *gorm.DB) *gorm.DB {
	if s.Admin {
		return q
	}
	return q.Where("user_id = ?", s.UserID)
}

// OwnedOrSystem is Owned plus rows without an owner (built-in templates).
func (s Scope) OwnedOrSystem(q *gorm.DB) *gorm.DB {
	if s.Admin {
		return q
	}
	return q.Where("user_id = ? OR user_id IS NULL", s.UserID)
}

// Tenancy runs database work inside a transaction carrying the caller's identity.
type Tenancy struct {
	db         *gorm.DB
	rlsEnabled bool
}

func NewTenancy(db *gorm.DB, rlsEnabled bool) *Tenancy {
	return &Tenancy{db: db, rlsEnabled: rlsEnabled}
}

func (t *Tenancy) DB() *gorm.DB {
	return t.db
}

// Run opens a transaction, sets the session variables read by the row-level
// security policies, and calls fn. The settings are transaction-local, so they
// are discarded on commit or rollback. Any error from fn rolls back.
func (t *Tenancy) Run(ctx context.Context, scope Scope, fn func(tx *gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if t.rlsEnabled && IsPostgres(tx) {
			if err := tx.Exec(setUserIDSQL, scope.UserID).Error; err != nil {
				return err
			}
			if err := tx.Exec(setIsAdminSQL, strconv.FormatBool(scope.Admin)).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
}
