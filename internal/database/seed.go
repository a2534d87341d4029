package database

import (
	"context"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/models"
)

func intPtr(v int) *int { return &v }

var builtinTemplates = []models.QrTemplate{
	{
		Name:        "Classic",
		Description: "Black modules on white, medium error correction.",
		Style:       models.StyleOptions{ForegroundColor: "#000000", BackgroundColor: "#ffffff", Margin: intPtr(2), ErrorCorrection: "M"},
	},
	{
		Name:        "Ocean",
		Description: "Deep blue modules on a pale background.",
		Style:       models.StyleOptions{ForegroundColor: "#0b3d91", BackgroundColor: "#eef6ff", Margin: intPtr(3), ErrorCorrection: "Q"},
	},
	{
		Name:        "Rounded",
		Description: "Soft rounded modules.",
		Style:       models.StyleOptions{ForegroundColor: "#222222", BackgroundColor: "#ffffff", CornerRadius: 0.4, ErrorCorrection: "M"},
	},
	{
		Name:        "Framed",
		Description: "Classic code with a \"Scan me\" frame.",
		Style:       models.StyleOptions{ForegroundColor: "#111111", BackgroundColor: "#ffffff", FrameText: "SCAN ME", FrameColor: "#111111", FrameTextColor: "#ffffff", ErrorCorrection: "Q"},
	},
}

// SeedTemplates inserts the built-in templates that are missing.
func SeedTemplates(ctx context.Context, tenancy *Tenancy) error {
	created := 0
	err := tenancy.Run(ctx, Scope{Admin: true}, func(tx *gorm.DB) error {
		for _, tpl := range builtinTemplates {
			var count int64
			if err := tx.Model(&models.QrTemplate{}).
				Where("user_id IS NULL AND name = ?", tpl.Name).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			rec := tpl
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if created > 0 {
		log.Info().Int("count", created).Msg("seeded built-in qr templates")
	}
	return nil
}
