// Package applog writes audit rows to application_logs and mirrors them to
// the process log and the live admin stream.
package applog

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/middleware"
	"github.com/zaqqye/qr_backend_v1/internal/models"
)

// Sink receives every stored entry.
type Sink interface {
	Broadcast(entry models.ApplicationLog)
}

type Entry struct {
	Event   string
	Message string
	// Level and Category override the catalog when set.
	Level     string
	Category  string
	UserID    string
	IP        string
	UserAgent string
	Path      string
	Metadata  map[string]any
}

type Logger struct {
	db   *gorm.DB
	zl   zerolog.Logger
	sink Sink
}

func New(db *gorm.DB, zl zerolog.Logger, sink Sink) *Logger {
	return &Logger{db: db, zl: zl, sink: sink}
}

// Log stores e. Failures are reported on the process log and never returned.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	row := toRow(e)

	// a cancelled request must not lose its audit row
	ctx = context.WithoutCancel(ctx)
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		l.zl.Warn().Err(err).Str("event", row.Event).Msg("applog: insert failed")
	}

	l.mirror(row)
	if l.sink != nil {
		l.sink.Broadcast(row)
	}
}

// FromGin logs event with the request's client ip, user agent, path and authenticated user.
func (l *Logger) FromGin(c *gin.Context, event, msg string, meta map[string]any) {
	if l == nil {
		return
	}
	e := Entry{
		Event:     event,
		Message:   msg,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Path:      c.Request.URL.Path,
		Metadata:  meta,
	}
	if u, ok := middleware.CurrentUser(c); ok {
		e.UserID = u.ID
	}
	if rid := c.GetString("request_id"); rid != "" {
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		e.Metadata["request_id"] = rid
	}
	l.Log(c.Request.Context(), e)
}

// ForUser is FromGin for flows where the user is known but not yet on the context (login, register, oauth).
func (l *Logger) ForUser(c *gin.Context, userID, event, msg string, meta map[string]any) {
	if l == nil {
		return
	}
	l.Log(c.Request.Context(), Entry{
		Event:     event,
		Message:   msg,
		UserID:    userID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Path:      c.Request.URL.Path,
		Metadata:  meta,
	})
}

func toRow(e Entry) models.ApplicationLog {
	category, level := Classify(e.Event)
	if e.Category != "" {
		category = e.Category
	}
	if e.Level != "" {
		level = e.Level
	}
	row := models.ApplicationLog{
		Level:     level,
		Category:  category,
		Event:     e.Event,
		Message:   e.Message,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		Path:      e.Path,
	}
	if e.UserID != "" {
		uid := e.UserID
		row.UserID = &uid
	}
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			row.Metadata = datatypes.JSON(b)
		}
	}
	return row
}

func (l *Logger) mirror(row models.ApplicationLog) {
	var ev *zerolog.Event
	switch row.Level {
	case LevelDebug:
		ev = l.zl.Debug()
	case LevelWarn:
		ev = l.zl.Warn()
	case LevelError:
		ev = l.zl.Error()
	default:
		ev = l.zl.Info()
	}
	ev = ev.Str("category", row.Category).Str("event", row.Event)
	if row.UserID != nil {
		ev = ev.Str("user_id", *row.UserID)
	}
	if len(row.Metadata) > 0 {
		ev = ev.RawJSON("metadata", row.Metadata)
	}
	ev.Msg(row.Message)
}
