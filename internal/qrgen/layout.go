package qrgen

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/zaqqye/qr_backend_v1/internal/models"
)

// layout is the geometry shared by the PNG and SVG renderers.
type layout struct {
	bitmap [][]bool
	quiet  int

	width  float64
	height float64
	border float64
	band   float64

	fg, bg, frame, frameText color.NRGBA
	logo                     image.Image
	style                    models.StyleOptions
}

func (l *layout) count() int { return len(l.bitmap) }

// inner is the side of the background square holding the symbol and its quiet zone.
func (l *layout) inner() float64 { return l.width - 2*l.border }

func (l *layout) module() float64 {
	return l.inner() / float64(l.count()+2*l.quiet)
}

func (l *layout) origin() float64 {
	return l.border + float64(l.quiet)*l.module()
}

func (l *layout) hasFrame() bool { return l.style.FrameText != "" }

func recoveryLevel(ec string) qrcode.RecoveryLevel {
	switch ec {
	case "L":
		return qrcode.Low
	case "Q":
		return qrcode.High
	case "H":
		return qrcode.Highest
	default:
		return qrcode.Medium
	}
}

func newLayout(content string, style models.StyleOptions) (*layout, error) {
	style = style.WithDefaults()
	if err := checkRanges(style); err != nil {
		return nil, err
	}

	l := &layout{style: style, quiet: *style.Margin}
	var err error
	if l.fg, err = parseHexColor(style.ForegroundColor); err != nil {
		return nil, invalid("foreground_color must be a hex color")
	}
	if l.bg, err = parseHexColor(style.BackgroundColor); err != nil {
		return nil, invalid("background_color must be a hex color")
	}
	if l.frame, err = parseHexColor(style.FrameColor); err != nil {
		return nil, invalid("frame_color must be a hex color")
	}
	if l.frameText, err = parseHexColor(style.FrameTextColor); err != nil {
		return nil, invalid("frame_text_color must be a hex color")
	}

	level := recoveryLevel(style.ErrorCorrection)
	if style.Logo != "" {
		if l.logo, err = decodeDataURL(style.Logo); err != nil {
			return nil, err
		}
		// a centred logo hides modules, so only the highest level leaves enough redundancy
		level = qrcode.Highest
	}

	q, err := qrcode.New(content, level)
	if err != nil {
		return nil, invalid("content is too long for the selected error correction level")
	}
	q.DisableBorder = true
	l.bitmap = q.Bitmap()

	l.width = float64(style.Size)
	l.height = l.width
	if l.hasFrame() {
		l.border = math.Max(2, math.Round(l.width*0.025))
		l.band = math.Round(l.width * 0.16)
		l.height += l.band
	}
	return l, nil
}

// Style limits. Stored styles reach the renderer from imports and templates, not only from bound requests.
const (
	MinSize         = 128
	MaxSize         = 2048
	MaxMargin       = 10
	MaxCornerRadius = 0.5
	MinLogoScale    = 0.1
	MaxLogoScale    = 0.3
	MaxFrameText    = 40
	MaxLogoLength   = 700000
	MaxLogoSide     = 4096
)

func checkRanges(style models.StyleOptions) error {
	switch {
	case style.Size < MinSize:
		return invalid(fmt.Sprintf("size must be at least %d", MinSize))
	case style.Size > MaxSize:
		return invalid(fmt.Sprintf("size must be at most %d", MaxSize))
	case *style.Margin < 0:
		return invalid("margin must be at least 0")
	case *style.Margin > MaxMargin:
		return invalid(fmt.Sprintf("margin must be at most %d", MaxMargin))
	case style.CornerRadius < 0 || style.CornerRadius > MaxCornerRadius:
		return invalid("corner_radius must be between 0 and 0.5")
	case style.LogoScale < MinLogoScale || style.LogoScale > MaxLogoScale:
		return invalid("logo_scale must be between 0.1 and 0.3")
	case utf8.RuneCountInString(style.FrameText) > MaxFrameText:
		return invalid(fmt.Sprintf("frame_text must be at most %d characters", MaxFrameText))
	case len(style.Logo) > MaxLogoLength:
		return invalid("logo is too large")
	}
	switch style.ErrorCorrection {
	case "L", "M", "Q", "H":
	default:
		return invalid("error_correction must be one of L M Q H")
	}
	return nil
}

// ValidateStyle checks every option after defaults are applied: numeric ranges,
// colour syntax and that the logo is a well-formed image of bounded size.
func ValidateStyle(style models.StyleOptions) error {
	style = style.WithDefaults()
	if err := checkRanges(style); err != nil {
		return err
	}
	colors := []struct{ field, value string }{
		{"foreground_color", style.ForegroundColor},
		{"background_color", style.BackgroundColor},
		{"frame_color", style.FrameColor},
		{"frame_text_color", style.FrameTextColor},
	}
	for _, c := range colors {
		if _, err := parseHexColor(c.value); err != nil {
			return invalid(c.field + " must be a hex color")
		}
	}
	if style.Logo != "" {
		if _, err := decodeDataURL(style.Logo); err != nil {
			return err
		}
	}
	return nil
}

func parseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	switch len(hex) {
	case 3, 4:
		var b strings.Builder
		for _, r := range hex {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		hex = b.String()
	case 6, 8:
	default:
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

var logoHeader = regexp.MustCompile(`^data:image/(png|jpeg|jpg|gif);base64$`)

// decodeDataURL accepts "data:image/{png,jpeg,gif};base64,..." or bare base64.
// Dimensions are read from the header before the pixels are decoded.
func decodeDataURL(raw string) (image.Image, error) {
	payload := raw
	if strings.HasPrefix(raw, "data:") {
		header, data, ok := strings.Cut(raw, ",")
		if !ok || !logoHeader.MatchString(header) {
			return nil, invalid("logo must be a base64 data URL")
		}
		payload = data
	}
	bs, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, invalid("logo must be a base64 data URL")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(bs))
	if err != nil {
		return nil, invalid("logo must be a PNG, JPEG or GIF image")
	}
	if cfg.Width < 1 || cfg.Height < 1 || cfg.Width > MaxLogoSide || cfg.Height > MaxLogoSide {
		return nil, invalid(fmt.Sprintf("logo must be at most %dx%d pixels", MaxLogoSide, MaxLogoSide))
	}
	img, _, err := image.Decode(bytes.NewReader(bs))
	if err != nil {
		return nil, invalid("logo must be a PNG, JPEG or GIF image")
	}
	return img, nil
}

// logoBox returns the side of the logo pad and the fitted logo dimensions.
func (l *layout) logoBox() (pad float64, w, h int) {
	box := l.inner() * l.style.LogoScale
	b := l.logo.Bounds()
	ratio := math.Min(box/float64(b.Dx()), box/float64(b.Dy()))
	w = int(math.Max(1, math.Round(float64(b.Dx())*ratio)))
	h = int(math.Max(1, math.Round(float64(b.Dy())*ratio)))
	return box * 1.2, w, h
}
