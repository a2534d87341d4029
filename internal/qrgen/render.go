package qrgen

import (
	"fmt"
	"image"
	"io"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
	"github.com/zaqqye/qr_backend_v1/internal/models"
)

type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "png":
		return FormatPNG, nil
	case "svg":
		return FormatSVG, nil
	default:
		return "", fmt.Errorf("%w: format must be png or svg", apperrors.ErrInvalidInput)
	}
}

func (f Format) ContentType() string {
	if f == FormatSVG {
		return "image/svg+xml"
	}
	return "image/png"
}

// Render writes content drawn with style in the requested format.
func Render(w io.Writer, f Format, content string, style models.StyleOptions) error {
	if f == FormatSVG {
		return RenderSVG(w, content, style)
	}
	return RenderPNG(w, content, style)
}

var (
	fontOnce sync.Once
	fontErr  error
	frameTTF *truetype.Font
)

func frameFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		frameTTF, fontErr = truetype.Parse(goregular.TTF)
	})
	return frameTTF, fontErr
}

// RenderPNG composites the symbol onto a canvas and encodes it as PNG.
func RenderPNG(w io.Writer, content string, style models.StyleOptions) error {
	l, err := newLayout(content, style)
	if err != nil {
		return err
	}

	dc := gg.NewContext(int(l.width), int(math.Round(l.height)))
	if l.hasFrame() {
		dc.SetColor(l.frame)
		dc.Clear()
		dc.SetColor(l.bg)
		dc.DrawRectangle(l.border, l.border, l.inner(), l.inner())
		dc.Fill()
	} else {
		dc.SetColor(l.bg)
		dc.Clear()
	}

	drawModulesPNG(dc, l)

	if l.logo != nil {
		drawLogoPNG(dc, l)
	}
	if l.hasFrame() {
		if err := drawFrameTextPNG(dc, l); err != nil {
			return err
		}
	}
	return dc.EncodePNG(w)
}

func drawModulesPNG(dc *gg.Context, l *layout) {
	mod := l.module()
	origin := l.origin()
	radius := l.style.CornerRadius * mod

	dc.SetColor(l.fg)
	for y, row := range l.bitmap {
		for x, dark := range row {
			if !dark {
				continue
			}
			if radius > 0 {
				dc.DrawRoundedRectangle(origin+float64(x)*mod, origin+float64(y)*mod, mod, mod, radius)
				continue
			}
			// snap square modules to whole pixels so neighbours do not leave hairline seams
			x0 := math.Round(origin + float64(x)*mod)
			x1 := math.Round(origin + float64(x+1)*mod)
			y0 := math.Round(origin + float64(y)*mod)
			y1 := math.Round(origin + float64(y+1)*mod)
			dc.DrawRectangle(x0, y0, x1-x0, y1-y0)
		}
	}
	dc.Fill()
}

func drawLogoPNG(dc *gg.Context, l *layout) {
	pad, w, h := l.logoBox()
	center := l.border + l.inner()/2

	dc.SetColor(l.bg)
	dc.DrawRoundedRectangle(center-pad/2, center-pad/2, pad, pad, pad*0.12)
	dc.Fill()

	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), l.logo, l.logo.Bounds(), draw.Over, nil)
	dc.DrawImageAnchored(scaled, int(math.Round(center)), int(math.Round(center)), 0.5, 0.5)
}

func drawFrameTextPNG(dc *gg.Context, l *layout) error {
	f, err := frameFont()
	if err != nil {
		return fmt.Errorf("load frame font: %w", err)
	}
	points := (l.band - l.border) * 0.5
	dc.SetFontFace(truetype.NewFace(f, &truetype.Options{Size: points}))
	if tw, _ := dc.MeasureString(l.style.FrameText); tw > l.inner()*0.9 {
		points *= l.inner() * 0.9 / tw
		dc.SetFontFace(truetype.NewFace(f, &truetype.Options{Size: points}))
	}

	dc.SetColor(l.frameText)
	cy := (l.width - l.border + l.height) / 2
	dc.DrawStringAnchored(l.style.FrameText, l.width/2, cy, 0.5, 0.35)
	return nil
}
