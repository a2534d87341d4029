package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zaqqye/qr_backend_v1/internal/config"
	"github.com/zaqqye/qr_backend_v1/internal/models"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if cfg.DBDriver == "sqlite" {
		dsn := cfg.DBDSN
		if dsn == "" {
			dsn = "qr.db"
		}
		return gorm.Open(sqlite.Open(dsn), gcfg)
	}
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode,
		)
	}
	return gorm.Open(postgres.Open(dsn), gcfg)
}

func Migrate(db *gorm.DB, rlsEnabled bool) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return err
	}
	if rlsEnabled && IsPostgres(db) {
		return installPolicies(db)
	}
	return nil
}

func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

// Policies read the transaction-local settings written by Tenancy.Run.
var policyStatements = []string{
	`ALTER TABLE qr_codes ENABLE ROW LEVEL SECURITY`,
	`ALTER TABLE qr_codes FORCE ROW LEVEL SECURITY`,
	`DROP POLICY IF EXISTS qr_codes_owner ON qr_codes`,
	`CREATE POLICY qr_codes_owner ON qr_codes
		USING (user_id::text = current_setting('app.current_user_id', true)
			OR current_setting('app.is_admin', true) = 'true')
		WITH CHECK (user_id::text = current_setting('app.current_user_id', true)
			OR current_setting('app.is_admin', true) = 'true')`,
	`ALTER TABLE qr_templates ENABLE ROW LEVEL SECURITY`,
	`ALTER TABLE qr_templates FORCE ROW LEVEL SECURITY`,
	`DROP POLICY IF EXISTS qr_templates_read ON qr_templates`,
	`CREATE POLICY qr_templates_read ON qr_templates FOR SELECT
		USING (user_id IS NULL
			OR user_id::text = current_setting('app.current_user_id', true)
			OR current_setting('app.is_admin', true) = 'true')`,
	`DROP POLICY IF EXISTS qr_templates_write ON qr_templates`,
	`CREATE POLICY qr_templates_write ON qr_templates FOR ALL
		USING (user_id::text = current_setting('app.current_user_id', true)
			OR current_setting('app.is_admin', true) = 'true')
		WITH CHECK (user_id::text = current_setting('app.current_user_id', true)
			OR current_setting('app.is_admin', true) = 'true')`,
}

func installPolicies(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, stmt := range policyStatements {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("install rls policy: %w", err)
			}
		}
		return nil
	})
}
