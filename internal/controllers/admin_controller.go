package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/applog"
	"github.com/zaqqye/qr_backend_v1/internal/database"
	"github.com/zaqqye/qr_backend_v1/internal/jobs"
	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/utils"
)

// CleanupQueue hands cleanup work to the background worker.
type CleanupQueue interface {
	EnqueueLogsCleanup(ctx context.Context, days int, requestedBy string) (string, error)
	EnqueueSessionsCleanup(ctx context.Context) (string, error)
}

type AdminController struct {
	DB               *gorm.DB
	Tenancy          *database.Tenancy
	Logger           *applog.Logger
	Queue            CleanupQueue
	IsAdmin          func(email string) bool
	LogRetentionDays int
	Now              func() time.Time
}

type cleanupLogsRequest struct {
	OlderThanDays *int `json:"older_than_days" binding:"omitempty,min=1,max=3650"`
}

var logSortable = map[string]string{
	"created_at": "created_at",
	"level":      "level",
	"category":   "category",
	"event":      "event",
}

var userSortable = map[string]string{
	"created_at":    "created_at",
	"email":         "email",
	"name":          "name",
	"last_login_at": "last_login_at",
}

func (a *AdminController) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func parseTimeParam(raw string, endOfDay bool) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, true
	}
	return time.Time{}, false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ListLogs supports level, category, event, user_id, q, from and to filters on top of paging.
func (a *AdminController) ListLogs(c *gin.Context) {
	p := utils.ParsePagination(c, 50, logSortable, "created_at")
	base := a.DB.WithContext(c.Request.Context()).Model(&models.ApplicationLog{})
	meta := gin.H{}

	if v := strings.ToLower(strings.TrimSpace(c.Query("level"))); v != "" {
		if !contains(applog.Levels(), v) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "level must be one of " + strings.Join(applog.Levels(), ", ")})
			return
		}
		base = base.Where("level = ?", v)
		meta["level"] = v
	}
	if v := strings.ToLower(strings.TrimSpace(c.Query("category"))); v != "" {
		if !contains(applog.Categories(), v) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "category must be one of " + strings.Join(applog.Categories(), ", ")})
			return
		}
		base = base.Where("category = ?", v)
		meta["category"] = v
	}
	if v := strings.TrimSpace(c.Query("event")); v != "" {
		base = base.Where("event = ?", v)
		meta["event"] = v
	}
	if v := strings.TrimSpace(c.Query("user_id")); v != "" {
		if !validID(v) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a valid UUID"})
			return
		}
		base = base.Where("user_id = ?", v)
		meta["user_id"] = v
	}
	if v := strings.ToLower(strings.TrimSpace(c.Query("q"))); v != "" {
		like := "%" + v + "%"
		base = base.Where("LOWER(message) LIKE ? OR LOWER(event) LIKE ? OR LOWER(path) LIKE ?", like, like, like)
		meta["q"] = v
	}
	if v := c.Query("from"); v != "" {
		from, ok := parseTimeParam(v, false)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be an RFC3339 timestamp or YYYY-MM-DD"})
			return
		}
		base = base.Where("created_at >= ?", from)
	}
	if v := c.Query("to"); v != "" {
		to, ok := parseTimeParam(v, true)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be an RFC3339 timestamp or YYYY-MM-DD"})
			return
		}
		base = base.Where("created_at <= ?", to)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		respondError(c, err)
		return
	}
	listQ := base.Session(&gorm.Session{}).Order(p.Order()).Order("id DESC")
	if !p.All {
		listQ = listQ.Offset(p.Offset()).Limit(p.Limit)
	}
	var logs []models.ApplicationLog
	if err := listQ.Find(&logs).Error; err != nil {
		respondError(c, err)
		return
	}

	out := p.Meta(total)
	for k, v := range meta {
		out[k] = v
	}
	c.JSON(http.StatusOK, gin.H{"data": logs, "meta": out})
}

type countRow struct {
	Name  string
	Total int64
}

func (a *AdminController) countBy(ctx context.Context, column string) (map[string]int64, error) {
	var rows []countRow
	err := a.DB.WithContext(ctx).Model(&models.ApplicationLog{}).
		Select(column + " AS name, COUNT(*) AS total").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Total
	}
	return out, nil
}

func (a *AdminController) LogStats(c *gin.Context) {
	ctx := c.Request.Context()
	byLevel, err := a.countBy(ctx, "level")
	if err != nil {
		respondError(c, err)
		return
	}
	byCategory, err := a.countBy(ctx, "category")
	if err != nil {
		respondError(c, err)
		return
	}
	for _, l := range applog.Levels() {
		if _, ok := byLevel[l]; !ok {
			byLevel[l] = 0
		}
	}
	for _, cat := range applog.Categories() {
		if _, ok := byCategory[cat]; !ok {
			byCategory[cat] = 0
		}
	}

	var total, last24h int64
	if err := a.DB.WithContext(ctx).Model(&models.ApplicationLog{}).Count(&total).Error; err != nil {
		respondError(c, err)
		return
	}
	since := a.now().Add(-24 * time.Hour)
	if err := a.DB.WithContext(ctx).Model(&models.ApplicationLog{}).Where("created_at >= ?", since).Count(&last24h).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":       total,
		"last_24h":    last24h,
		"by_level":    byLevel,
		"by_category": byCategory,
	})
}

// CleanupLogs queues the purge when a worker is configured, else runs it in the request.
func (a *AdminController) CleanupLogs(c *gin.Context) {
	var req cleanupLogsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
			return
		}
	}
	days := a.LogRetentionDays
	if req.OlderThanDays != nil {
		if *req.OlderThanDays < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_days must be at least 1"})
			return
		}
		days = *req.OlderThanDays
	}
	if days < 1 {
		days = 30
	}
	user := currentUser(c)

	if a.Queue != nil {
		id, err := a.Queue.EnqueueLogsCleanup(c.Request.Context(), days, user.ID)
		if err == nil {
			a.Logger.FromGin(c, applog.EventLogsCleanup, fmt.Sprintf("queued cleanup of logs older than %d days", days), map[string]any{"task_id": id, "older_than_days": days})
			c.JSON(http.StatusAccepted, gin.H{"message": "cleanup queued", "task_id": id, "older_than_days": days})
			return
		}
	}

	deleted, err := jobs.CleanupLogs(c.Request.Context(), a.DB, days, a.now())
	if err != nil {
		respondError(c, err)
		return
	}
	a.Logger.FromGin(c, applog.EventLogsCleanup, fmt.Sprintf("deleted %d log entries older than %d days", deleted, days), map[string]any{"deleted": deleted, "older_than_days": days})
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "older_than_days": days})
}

func (a *AdminController) CleanupSessions(c *gin.Context) {
	if a.Queue != nil {
		id, err := a.Queue.EnqueueSessionsCleanup(c.Request.Context())
		if err == nil {
			a.Logger.FromGin(c, applog.EventSessionsCleanup, "queued session cleanup", map[string]any{"task_id": id})
			c.JSON(http.StatusAccepted, gin.H{"message": "cleanup queued", "task_id": id})
			return
		}
	}
	deleted, err := jobs.CleanupSessions(c.Request.Context(), a.DB, a.now())
	if err != nil {
		respondError(c, err)
		return
	}
	a.Logger.FromGin(c, applog.EventSessionsCleanup, fmt.Sprintf("deleted %d expired or revoked sessions", deleted), map[string]any{"deleted": deleted})
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// ListUsers pages through accounts with the number of QR codes each one owns.
func (a *AdminController) ListUsers(c *gin.Context) {
	p := utils.ParsePagination(c, 20, userSortable, "created_at")
	qText := strings.ToLower(strings.TrimSpace(c.Query("q")))
	var active *bool
	if raw := c.Query("active"); raw != "" {
		v, ok := parseBoolParam(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "active must be true or false"})
			return
		}
		active = &v
	}

	filtered := func(tx *gorm.DB) *gorm.DB {
		q := tx.Model(&models.User{})
		if qText != "" {
			like := "%" + qText + "%"
			q = q.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ?", like, like)
		}
		if active != nil {
			q = q.Where("active = ?", *active)
		}
		return q
	}

	var (
		total  int64
		users  []models.User
		counts = map[string]int64{}
	)
	err := a.Tenancy.Run(c.Request.Context(), scopeFor(c, true), func(tx *gorm.DB) error {
		if err := filtered(tx).Count(&total).Error; err != nil {
			return err
		}
		listQ := filtered(tx).Order(p.Order())
		if !p.All {
			listQ = listQ.Offset(p.Offset()).Limit(p.Limit)
		}
		if err := listQ.Find(&users).Error; err != nil {
			return err
		}
		if len(users) == 0 {
			return nil
		}
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		var rows []countRow
		if err := tx.Model(&models.QrCode{}).
			Select("user_id AS name, COUNT(*) AS total").
			Where("user_id IN ?", ids).
			Group("user_id").
			Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			counts[r.Name] = r.Total
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		item := userResponse(u, a.IsAdmin != nil && a.IsAdmin(u.Email))
		item["qr_code_count"] = counts[u.ID]
		out = append(out, item)
	}
	meta := p.Meta(total)
	if qText != "" {
		meta["q"] = qText
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "meta": meta})
}
