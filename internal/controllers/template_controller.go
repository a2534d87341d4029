package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
	"github.com/zaqqye/qr_backend_v1/internal/applog"
	"github.com/zaqqye/qr_backend_v1/internal/database"
	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/qrgen"
	"github.com/zaqqye/qr_backend_v1/internal/utils"
)

type TemplateController struct {
	Tenancy *database.Tenancy
	Logger  *applog.Logger
}

type createTemplateRequest struct {
	Name        string              `json:"name" binding:"required,max=100"`
	Description string              `json:"description" binding:"max=500"`
	Style       models.StyleOptions `json:"style"`
}

type updateTemplateRequest struct {
	Name         *string              `json:"name" binding:"omitempty,min=1,max=100"`
	Description  *string              `json:"description" binding:"omitempty,max=500"`
	Style        *models.StyleOptions `json:"style"`
	ReplaceStyle bool                 `json:"replace_style"`
}

var templateSortable = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
}

func findTemplate(tx *gorm.DB, scope database.Scope, id string) (models.QrTemplate, error) {
	var t models.QrTemplate
	if !validID(id) {
		return t, apperrors.Newf(apperrors.ErrNotFound, "template not found")
	}
	if err := scope.OwnedOrSystem(tx.Model(&models.QrTemplate{})).Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return t, apperrors.Newf(apperrors.ErrNotFound, "template not found")
		}
		return t, err
	}
	return t, nil
}

// findMutableTemplate is findTemplate for writes. Built-in templates are visible but read-only.
func findMutableTemplate(tx *gorm.DB, scope database.Scope, id string) (models.QrTemplate, error) {
	t, err := findTemplate(tx, scope, id)
	if err != nil {
		return t, err
	}
	if t.IsSystem() {
		return t, apperrors.Newf(apperrors.ErrForbidden, "built-in templates cannot be modified")
	}
	return t, nil
}

func (tc *TemplateController) List(c *gin.Context) {
	p := utils.ParsePagination(c, 50, templateSortable, "created_at")
	qText := strings.ToLower(strings.TrimSpace(c.Query("q")))
	scope := scopeFor(c, false)

	filtered := func(tx *gorm.DB) *gorm.DB {
		q := scope.OwnedOrSystem(tx.Model(&models.QrTemplate{}))
		if qText != "" {
			like := "%" + qText + "%"
			q = q.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", like, like)
		}
		switch c.Query("kind") {
		case "system":
			q = q.Where("user_id IS NULL")
		case "own":
			q = q.Where("user_id IS NOT NULL")
		}
		return q
	}

	var (
		total int64
		items []models.QrTemplate
	)
	err := tc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
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

	out := make([]gin.H, 0, len(items))
	for _, t := range items {
		out = append(out, templateResponse(t))
	}
	meta := p.Meta(total)
	if qText != "" {
		meta["q"] = qText
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "meta": meta})
}

func templateResponse(t models.QrTemplate) gin.H {
	return gin.H{
		"id":          t.ID,
		"name":        t.Name,
		"description": t.Description,
		"style":       t.Style,
		"is_system":   t.IsSystem(),
		"created_at":  t.CreatedAt,
		"updated_at":  t.UpdatedAt,
	}
}

func (tc *TemplateController) Create(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
		return
	}
	if err := qrgen.ValidateStyle(req.Style); err != nil {
		respondError(c, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	user := currentUser(c)
	t := models.QrTemplate{
		UserID:      &user.ID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Style:       req.Style,
	}
	if err := tc.Tenancy.Run(c.Request.Context(), scopeFor(c, false), func(tx *gorm.DB) error {
		return tx.Create(&t).Error
	}); err != nil {
		respondError(c, err)
		return
	}
	tc.Logger.FromGin(c, applog.EventTemplateCreated, fmt.Sprintf("created template %q", t.Name), map[string]any{"template_id": t.ID})
	c.JSON(http.StatusCreated, templateResponse(t))
}

func (tc *TemplateController) Get(c *gin.Context) {
	scope := scopeFor(c, true)
	var t models.QrTemplate
	err := tc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		var err error
		t, err = findTemplate(tx, scope, c.Param("id"))
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, templateResponse(t))
}

func (tc *TemplateController) Update(c *gin.Context) {
	var req updateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
		return
	}

	scope := scopeFor(c, true)
	var t models.QrTemplate
	err := tc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		var err error
		if t, err = findMutableTemplate(tx, scope, c.Param("id")); err != nil {
			return err
		}
		touched := false
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return apperrors.Newf(apperrors.ErrInvalidInput, "name is required")
			}
			t.Name = name
			touched = true
		}
		if req.Description != nil {
			t.Description = strings.TrimSpace(*req.Description)
			touched = true
		}
		if req.Style != nil {
			style := *req.Style
			if !req.ReplaceStyle {
				style = t.Style.Merge(style)
			}
			if err := qrgen.ValidateStyle(style); err != nil {
				return err
			}
			t.Style = style
			touched = true
		}
		if !touched {
			return apperrors.Newf(apperrors.ErrInvalidInput, "nothing to update")
		}
		return tx.Save(&t).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	tc.Logger.FromGin(c, applog.EventTemplateUpdated, fmt.Sprintf("updated template %q", t.Name), map[string]any{"template_id": t.ID})
	c.JSON(http.StatusOK, templateResponse(t))
}

// Delete removes a template. Codes made from it keep their copied style and lose the reference.
func (tc *TemplateController) Delete(c *gin.Context) {
	scope := scopeFor(c, true)
	var t models.QrTemplate
	err := tc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		var err error
		if t, err = findMutableTemplate(tx, scope, c.Param("id")); err != nil {
			return err
		}
		if err := tx.Model(&models.QrCode{}).Where("template_id = ?", t.ID).Update("template_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&t).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	tc.Logger.FromGin(c, applog.EventTemplateDeleted, fmt.Sprintf("deleted template %q", t.Name), map[string]any{"template_id": t.ID})
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
