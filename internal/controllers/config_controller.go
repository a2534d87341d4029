package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/qr_backend_v1/internal/config"
	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/qrgen"
	"github.com/zaqqye/qr_backend_v1/internal/utils"
)

type ConfigController struct {
	Cfg *config.Config
}

// Public describes what clients may send: limits, content types, style defaults and sign-in options.
func (cc *ConfigController) Public(c *gin.Context) {
	maxImport := cc.Cfg.MaxImportBytes
	if maxImport <= 0 {
		maxImport = DefaultMaxImportBytes
	}
	c.JSON(http.StatusOK, gin.H{
		"schema_version":  1,
		"export_version":  ExportVersion,
		"oauth_providers": enabledProviders(),
		"qr_types":        qrgen.Types(),
		"formats":         []string{string(qrgen.FormatPNG), string(qrgen.FormatSVG)},
		"default_style":   models.StyleOptions{}.WithDefaults(),
		"limits": gin.H{
			"max_content_bytes": qrgen.MaxContentBytes,
			"max_name_length":   100,
			"max_frame_text":    40,
			"min_size":          128,
			"max_size":          2048,
			"max_margin":        10,
			"max_corner_radius": 0.5,
			"logo_scale":        []float64{0.1, 0.3},
			"max_import_bytes":  maxImport,
			"max_bulk_delete":   100,
			"max_page_limit":    utils.MaxPageLimit,
		},
		"flags": gin.H{
			"oauth":      len(enabledProviders()) > 0,
			"login_rate": cc.Cfg.LoginRateLimit,
		},
	})
}
