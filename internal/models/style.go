package models

// StyleOptions controls how a QR code is drawn.
type StyleOptions struct {
	ForegroundColor string  `json:"foreground_color,omitempty" binding:"omitempty,hexcolor"`
	BackgroundColor string  `json:"background_color,omitempty" binding:"omitempty,hexcolor"`
	Size            int     `json:"size,omitempty" binding:"omitempty,min=128,max=2048"`
	Margin          *int    `json:"margin,omitempty" binding:"omitempty,min=0,max=10"`
	ErrorCorrection string  `json:"error_correction,omitempty" binding:"omitempty,oneof=L M Q H"`
	CornerRadius    float64 `json:"corner_radius,omitempty" binding:"omitempty,min=0,max=0.5"`
	Logo            string  `json:"logo,omitempty" binding:"omitempty,max=700000"`
	LogoScale       float64 `json:"logo_scale,omitempty" binding:"omitempty,min=0.1,max=0.3"`
	FrameText       string  `json:"frame_text,omitempty" binding:"omitempty,max=40"`
	FrameColor      string  `json:"frame_color,omitempty" binding:"omitempty,hexcolor"`
	FrameTextColor  string  `json:"frame_text_color,omitempty" binding:"omitempty,hexcolor"`
}

const (
	DefaultForeground      = "#000000"
	DefaultBackground      = "#ffffff"
	DefaultSize            = 512
	DefaultMargin          = 2
	DefaultErrorCorrection = "M"
	DefaultLogoScale       = 0.2
)

// WithDefaults fills every unset option.
func (s StyleOptions) WithDefaults() StyleOptions {
	if s.ForegroundColor == "" {
		s.ForegroundColor = DefaultForeground
	}
	if s.BackgroundColor == "" {
		s.BackgroundColor = DefaultBackground
	}
	if s.Size == 0 {
		s.Size = DefaultSize
	}
	if s.Margin == nil {
		m := DefaultMargin
		s.Margin = &m
	}
	if s.ErrorCorrection == "" {
		s.ErrorCorrection = DefaultErrorCorrection
	}
	if s.LogoScale == 0 {
		s.LogoScale = DefaultLogoScale
	}
	if s.FrameColor == "" {
		s.FrameColor = s.ForegroundColor
	}
	if s.FrameTextColor == "" {
		s.FrameTextColor = s.BackgroundColor
	}
	return s
}

// Merge overlays every option set in override on top of s.
func (s StyleOptions) Merge(override StyleOptions) StyleOptions {
	if override.ForegroundColor != "" {
		s.ForegroundColor = override.ForegroundColor
	}
	if override.BackgroundColor != "" {
		s.BackgroundColor = override.BackgroundColor
	}
	if override.Size != 0 {
		s.Size = override.Size
	}
	if override.Margin != nil {
		m := *override.Margin
		s.Margin = &m
	}
	if override.ErrorCorrection != "" {
		s.ErrorCorrection = override.ErrorCorrection
	}
	if override.CornerRadius != 0 {
		s.CornerRadius = override.CornerRadius
	}
	if override.Logo != "" {
		s.Logo = override.Logo
	}
	if override.LogoScale != 0 {
		s.LogoScale = override.LogoScale
	}
	if override.FrameText != "" {
		s.FrameText = override.FrameText
	}
	if override.FrameColor != "" {
		s.FrameColor = override.FrameColor
	}
	if override.FrameTextColor != "" {
		s.FrameTextColor = override.FrameTextColor
	}
	return s
}
