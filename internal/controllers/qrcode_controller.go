package controllers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
	"github.com/zaqqye/qr_backend_v1/internal/applog"
	"github.com/zaqqye/qr_backend_v1/internal/cache"
	"github.com/zaqqye/qr_backend_v1/internal/database"
	"github.com/zaqqye/qr_backend_v1/internal/events"
	"github.com/zaqqye/qr_backend_v1/internal/middleware"
	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/qrgen"
	"github.com/zaqqye/qr_backend_v1/internal/utils"
)

type QrCodeController struct {
	Tenancy *database.Tenancy
	Logger  *applog.Logger
	Events  events.Publisher
	Cache   cache.ImageCache
}

type wifiInput struct {
	SSID       string `json:"ssid" binding:"required,max=32"`
	Password   string `json:"password" binding:"max=63"`
	Encryption string `json:"encryption" binding:"omitempty,oneof=WPA WPA2 WPA3 WEP nopass"`
	Hidden     bool   `json:"hidden"`
}

func (w *wifiInput) payload() string {
	return qrgen.WiFiPayload(w.SSID, w.Password, w.Encryption, w.Hidden)
}

type createQrRequest struct {
	Name       string               `json:"name" binding:"required,max=100"`
	Type       string               `json:"type" binding:"required,oneof=url text email phone sms wifi vcard"`
	Content    string               `json:"content" binding:"max=2953"`
	WiFi       *wifiInput           `json:"wifi"`
	TemplateID *string              `json:"template_id" binding:"omitempty,uuid"`
	Style      *models.StyleOptions `json:"style"`
	Favorite   bool                 `json:"favorite"`
}

type updateQrRequest struct {
	Name         *string              `json:"name" binding:"omitempty,min=1,max=100"`
	Type         *string              `json:"type" binding:"omitempty,oneof=url text email phone sms wifi vcard"`
	Content      *string              `json:"content" binding:"omitempty,max=2953"`
	WiFi         *wifiInput           `json:"wifi"`
	TemplateID   *string              `json:"template_id" binding:"omitempty,uuid"`
	Style        *models.StyleOptions `json:"style"`
	ReplaceStyle bool                 `json:"replace_style"`
	Favorite     *bool                `json:"favorite"`
}

type previewRequest struct {
	Type       string               `json:"type" binding:"required,oneof=url text email phone sms wifi vcard"`
	Content    string               `json:"content" binding:"max=2953"`
	WiFi       *wifiInput           `json:"wifi"`
	TemplateID *string              `json:"template_id" binding:"omitempty,uuid"`
	Style      *models.StyleOptions `json:"style"`
	Format     string               `json:"format" binding:"omitempty,oneof=png svg"`
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids" binding:"required,min=1,max=100"`
}

var qrSortable = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
	"type":       "type",
}

func parseBoolParam(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}

func qrEvent(q models.QrCode, source string) events.QrEvent {
	return events.QrEvent{QrCodeID: q.ID, UserID: q.UserID, Name: q.Name, Type: q.Type, Source: source}
}

func (qc *QrCodeController) emit(c *gin.Context, subject string, q models.QrCode, source string) {
	events.Emit(c.Request.Context(), qc.Events, subject, qrEvent(q, source), log.Logger)
}

// resolveStyle layers explicit options over the template's, when a template is given.
func resolveStyle(tx *gorm.DB, scope database.Scope, templateID *string, explicit *models.StyleOptions) (models.StyleOptions, error) {
	var style models.StyleOptions
	if templateID != nil && *templateID != "" {
		var tpl models.QrTemplate
		if err := scope.OwnedOrSystem(tx.Model(&models.QrTemplate{})).Where("id = ?", *templateID).First(&tpl).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return style, apperrors.Newf(apperrors.ErrInvalidInput, "template not found")
			}
			return style, err
		}
		style = tpl.Style
	}
	if explicit != nil {
		style = style.Merge(*explicit)
	}
	return style, qrgen.ValidateStyle(style)
}

func findQrCode(tx *gorm.DB, scope database.Scope, id string) (models.QrCode, error) {
	var q models.QrCode
	if !validID(id) {
		return q, apperrors.Newf(apperrors.ErrNotFound, "qr code not found")
	}
	if err := scope.Owned(tx.Model(&models.QrCode{})).Where("id = ?", id).First(&q).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return q, apperrors.Newf(apperrors.ErrNotFound, "qr code not found")
		}
		return q, err
	}
	return q, nil
}

func (qc *QrCodeController) List(c *gin.Context) {
	p := utils.ParsePagination(c, 20, qrSortable, "created_at")
	scope := scopeFor(c, false)
	if c.Query("scope") == "all" {
		if !middleware.IsAdmin(c) {
			qc.Logger.FromGin(c, applog.EventAccessDenied, "scope=all requested without admin access", nil)
			c.JSON(http.StatusForbidden, gin.H{"error": "scope=all requires admin access"})
			return
		}
		scope.Admin = true
	}

	qText := strings.ToLower(strings.TrimSpace(c.Query("q")))
	typeFilter := strings.TrimSpace(strings.ToLower(c.Query("type")))
	if typeFilter != "" && !qrgen.IsValidType(typeFilter) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be one of " + strings.Join(qrgen.Types(), ", ")})
		return
	}
	var favorite *bool
	if raw := c.Query("favorite"); raw != "" {
		v, ok := parseBoolParam(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "favorite must be true or false"})
			return
		}
		favorite = &v
	}
	templateFilter := strings.TrimSpace(c.Query("template_id"))

	filtered := func(tx *gorm.DB) *gorm.DB {
		q := scope.Owned(tx.Model(&models.QrCode{}))
		if qText != "" {
			like := "%" + qText + "%"
			q = q.Where("LOWER(name) LIKE ? OR LOWER(content) LIKE ?", like, like)
		}
		if typeFilter != "" {
			q = q.Where("type = ?", typeFilter)
		}
		if favorite != nil {
			q = q.Where("favorite = ?", *favorite)
		}
		if templateFilter != "" {
			q = q.Where("template_id = ?", templateFilter)
		}
		return q
	}

	var (
		total int64
		items []models.QrCode
	)
	err := qc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		if err := filtered(tx).Count(&total).Error; err != nil {
			return err
		}
		listQ := filtered(tx).Order(p.Order())
		if !p.All {
			listQ = listQ.Offset(p.Offset()).Limit(p.Limit)
		}
		return listQ.Find(&items).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	meta := p.Meta(total)
	if qText != "" {
		meta["q"] = qText
	}
	if typeFilter != "" {
		meta["type"] = typeFilter
	}
	if scope.Admin {
		meta["scope"] = "all"
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "meta": meta})
}

func (qc *QrCodeController) Create(c *gin.Context) {
	var req createQrRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
		return
	}
	content := req.Content
	if req.Type == qrgen.TypeWiFi && req.WiFi != nil {
		content = req.WiFi.payload()
	}
	if _, err := qrgen.EncodeContent(req.Type, content); err != nil {
		respondError(c, err)
		return
	}

	user := currentUser(c)
	scope := scopeFor(c, false)
	q := models.QrCode{
		UserID:   user.ID,
		Name:     strings.TrimSpace(req.Name),
		Type:     req.Type,
		Content:  strings.TrimSpace(content),
		Favorite: req.Favorite,
	}
	err := qc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		style, err := resolveStyle(tx, scope, req.TemplateID, req.Style)
		if err != nil {
			return err
		}
		q.Style = style
		if req.TemplateID != nil && *req.TemplateID != "" {
			q.TemplateID = req.TemplateID
		}
		return tx.Create(&q).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	qc.Logger.FromGin(c, applog.EventQrCreated, fmt.Sprintf("created qr code %q", q.Name), map[string]any{"qr_code_id": q.ID, "type": q.Type})
	qc.emit(c, events.SubjectQrCreated, q, "api")
	c.JSON(http.StatusCreated, q)
}

func (qc *QrCodeController) Get(c *gin.Context) {
	var q models.QrCode
	err := qc.Tenancy.Run(c.Request.Context(), scopeFor(c, true), func(tx *gorm.DB) error {
		var err error
		q, err = findQrCode(tx, scopeFor(c, true), c.Param("id"))
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (qc *QrCodeController) Update(c *gin.Context) {
	var req updateQrRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
		return
	}

	scope := scopeFor(c, true)
	var (
		q       models.QrCode
		changed []string
	)
	err := qc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		var err error
		if q, err = findQrCode(tx, scope, c.Param("id")); err != nil {
			return err
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return apperrors.Newf(apperrors.ErrInvalidInput, "name is required")
			}
			q.Name = name
			changed = append(changed, "name")
		}
		if req.Type != nil {
			q.Type = *req.Type
			changed = append(changed, "type")
		}
		if req.WiFi != nil && q.Type == qrgen.TypeWiFi {
			q.Content = req.WiFi.payload()
			changed = append(changed, "content")
		} else if req.Content != nil {
			q.Content = strings.TrimSpace(*req.Content)
			changed = append(changed, "content")
		}
		if req.Type != nil || req.Content != nil || req.WiFi != nil {
			if _, err := qrgen.EncodeContent(q.Type, q.Content); err != nil {
				return err
			}
		}

		if req.TemplateID != nil || req.Style != nil {
			base := q.Style
			// clearing the template keeps the current style; switching templates rebases on the new one
			if req.ReplaceStyle || (req.TemplateID != nil && *req.TemplateID != "") {
				base = models.StyleOptions{}
			}
			style, err := resolveStyle(tx, database.Scope{UserID: q.UserID}, req.TemplateID, nil)
			if err != nil {
				return err
			}
			style = base.Merge(style)
			if req.Style != nil {
				style = style.Merge(*req.Style)
			}
			if err := qrgen.ValidateStyle(style); err != nil {
				return err
			}
			q.Style = style
			if req.TemplateID != nil {
				q.TemplateID = nil
				if *req.TemplateID != "" {
					q.TemplateID = req.TemplateID
				}
			}
			changed = append(changed, "style")
		}
		if req.Favorite != nil {
			q.Favorite = *req.Favorite
			changed = append(changed, "favorite")
		}
		if len(changed) == 0 {
			return apperrors.Newf(apperrors.ErrInvalidInput, "nothing to update")
		}
		return tx.Save(&q).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	qc.Logger.FromGin(c, applog.EventQrUpdated, fmt.Sprintf("updated qr code %q", q.Name), map[string]any{"qr_code_id": q.ID, "fields": changed})
	qc.emit(c, events.SubjectQrUpdated, q, "api")
	c.JSON(http.StatusOK, q)
}

func (qc *QrCodeController) Delete(c *gin.Context) {
	scope := scopeFor(c, true)
	var q models.QrCode
	err := qc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		var err error
		if q, err = findQrCode(tx, scope, c.Param("id")); err != nil {
			return err
		}
		return tx.Delete(&q).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	qc.Logger.FromGin(c, applog.EventQrDeleted, fmt.Sprintf("deleted qr code %q", q.Name), map[string]any{"qr_code_id": q.ID, "owner_id": q.UserID})
	qc.emit(c, events.SubjectQrDeleted, q, "api")
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// BulkDelete removes the caller's codes among ids. Ids the caller does not own are reported as not found.
func (qc *QrCodeController) BulkDelete(c *gin.Context) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
		return
	}
	ids, err := normalizeIDs(req.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids must contain at least 1 items"})
		return
	}

	scope := scopeFor(c, false)
	var deleted []models.QrCode
	err = qc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		if err := scope.Owned(tx.Model(&models.QrCode{})).Where("id IN ?", ids).Find(&deleted).Error; err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		found := make([]string, 0, len(deleted))
		for _, q := range deleted {
			found = append(found, q.ID)
		}
		return scope.Owned(tx).Where("id IN ?", found).Delete(&models.QrCode{}).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	found := make(map[string]struct{}, len(deleted))
	for _, q := range deleted {
		found[q.ID] = struct{}{}
		qc.emit(c, events.SubjectQrDeleted, q, "bulk")
	}
	missing := []string{}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(deleted) > 0 {
		qc.Logger.FromGin(c, applog.EventQrBulkDeleted, fmt.Sprintf("deleted %d qr codes", len(deleted)), map[string]any{"count": len(deleted)})
	}
	c.JSON(http.StatusOK, gin.H{"deleted": len(deleted), "not_found": missing})
}

func (qc *QrCodeController) Duplicate(c *gin.Context) {
	user := currentUser(c)
	scope := scopeFor(c, true)
	var copyQ models.QrCode
	err := qc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		src, err := findQrCode(tx, scope, c.Param("id"))
		if err != nil {
			return err
		}
		copyQ = models.QrCode{
			UserID:     user.ID,
			TemplateID: src.TemplateID,
			Name:       copyName(src.Name),
			Type:       src.Type,
			Content:    src.Content,
			Style:      src.Style,
		}
		return tx.Create(&copyQ).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	qc.Logger.FromGin(c, applog.EventQrDuplicated, fmt.Sprintf("duplicated qr code as %q", copyQ.Name), map[string]any{"qr_code_id": copyQ.ID, "source_id": c.Param("id")})
	qc.emit(c, events.SubjectQrCreated, copyQ, "duplicate")
	c.JSON(http.StatusCreated, copyQ)
}

func copyName(name string) string {
	const suffix = " (copy)"
	return truncate(name, 100-utf8.RuneCountInString(suffix)) + suffix
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func downloadName(name string, f qrgen.Format) string {
	base := strings.Trim(unsafeFilename.ReplaceAllString(name, "-"), "-.")
	if base == "" {
		base = "qr-code"
	}
	return base + "." + string(f)
}

// Image renders a stored code. Renders are cached by content and style.
func (qc *QrCodeController) Image(c *gin.Context) {
	format, err := qrgen.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be png or svg"})
		return
	}
	scope := scopeFor(c, true)
	var q models.QrCode
	err = qc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		var err error
		q, err = findQrCode(tx, scope, c.Param("id"))
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	encoded, err := qrgen.EncodeContent(q.Type, q.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	if dl, ok := parseBoolParam(c.Query("download")); ok && dl {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, downloadName(q.Name, format)))
	}
	qc.serveImage(c, format, encoded, q.Style, q.ID)
}

func (qc *QrCodeController) serveImage(c *gin.Context, format qrgen.Format, encoded string, style models.StyleOptions, qrID string) {
	key := cache.ImageKey(string(format), encoded, style)
	etag := `"` + key[len(key)-16:] + `"`
	c.Header("Cache-Control", "private, max-age=300")
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	store := qc.Cache
	if store == nil {
		store = cache.NewImageCache(nil, 0)
	}
	if data, ok := store.Get(c.Request.Context(), key); ok {
		middleware.RecordRender(string(format), true)
		c.Data(http.StatusOK, format.ContentType(), data)
		return
	}

	var buf bytes.Buffer
	if err := qrgen.Render(&buf, format, encoded, style); err != nil {
		if !errors.Is(err, apperrors.ErrInvalidInput) {
			qc.Logger.FromGin(c, applog.EventQrRenderFailed, err.Error(), map[string]any{"qr_code_id": qrID, "format": string(format)})
		}
		respondError(c, err)
		return
	}
	middleware.RecordRender(string(format), false)
	store.Set(c.Request.Context(), key, buf.Bytes())
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// Preview renders an unsaved code.
func (qc *QrCodeController) Preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
		return
	}
	format, _ := qrgen.ParseFormat(req.Format)
	content := req.Content
	if req.Type == qrgen.TypeWiFi && req.WiFi != nil {
		content = req.WiFi.payload()
	}
	encoded, err := qrgen.EncodeContent(req.Type, content)
	if err != nil {
		respondError(c, err)
		return
	}

	scope := scopeFor(c, false)
	var style models.StyleOptions
	err = qc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		var err error
		style, err = resolveStyle(tx, scope, req.TemplateID, req.Style)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	qc.serveImage(c, format, encoded, style, "")
}
