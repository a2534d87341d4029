package qrgen

import (
	"bytes"
	"encoding/base64"
	"html"
	"image"
	"image/png"
	"io"
	"math"
	"strconv"

	svg "github.com/ajstarks/svgo"

	"github.com/zaqqye/qr_backend_v1/internal/models"
)

// svgUnit is the number of viewBox units per module; svgo only takes integer coordinates.
const svgUnit = 20

// RenderSVG writes the symbol as an SVG document in module-aligned viewBox units.
func RenderSVG(w io.Writer, content string, style models.StyleOptions) error {
	l, err := newLayout(content, style)
	if err != nil {
		return err
	}

	mod := l.module()
	toUnits := func(px float64) int { return int(math.Round(px / mod * svgUnit)) }

	innerU := (l.count() + 2*l.quiet) * svgUnit
	borderU := toUnits(l.border)
	bandU := toUnits(l.band)
	widthU := innerU + 2*borderU
	heightU := widthU
	if l.hasFrame() {
		heightU += bandU
	}
	pxHeight := int(math.Round(l.width * float64(heightU) / float64(widthU)))

	canvas := svg.New(w)
	canvas.Startview(int(l.width), pxHeight, 0, 0, widthU, heightU)

	fg := "fill:" + l.style.ForegroundColor
	bg := "fill:" + l.style.BackgroundColor
	if l.hasFrame() {
		canvas.Rect(0, 0, widthU, heightU, "fill:"+l.style.FrameColor)
		canvas.Rect(borderU, borderU, innerU, innerU, bg)
	} else {
		canvas.Rect(0, 0, widthU, heightU, bg)
	}

	origin := borderU + l.quiet*svgUnit
	radius := int(math.Round(l.style.CornerRadius * svgUnit))
	canvas.Group(fg)
	for y, row := range l.bitmap {
		if radius > 0 {
			for x, dark := range row {
				if dark {
					canvas.Roundrect(origin+x*svgUnit, origin+y*svgUnit, svgUnit, svgUnit, radius, radius)
				}
			}
			continue
		}
		// horizontal runs of dark modules collapse into one rect
		for x := 0; x < len(row); {
			if !row[x] {
				x++
				continue
			}
			start := x
			for x < len(row) && row[x] {
				x++
			}
			canvas.Rect(origin+start*svgUnit, origin+y*svgUnit, (x-start)*svgUnit, svgUnit)
		}
	}
	canvas.Gend()

	if l.logo != nil {
		pad, lw, lh := l.logoBox()
		padU := toUnits(pad)
		center := borderU + innerU/2
		canvas.Roundrect(center-padU/2, center-padU/2, padU, padU, padU/8, padU/8, bg)
		wU, hU := toUnits(float64(lw)), toUnits(float64(lh))
		href, err := pngDataURL(l.logo)
		if err != nil {
			return err
		}
		canvas.Image(center-wU/2, center-hU/2, wU, hU, href)
	}

	if l.hasFrame() {
		size := int(math.Round(float64(bandU-borderU) * 0.5))
		cy := (widthU - borderU + heightU) / 2
		canvas.Text(widthU/2, cy+size/3, l.style.FrameText,
			"text-anchor:middle;font-family:sans-serif;font-size:"+strconv.Itoa(size)+"px;fill:"+l.style.FrameTextColor)
	}

	canvas.End()
	return nil
}

// pngDataURL re-encodes the decoded logo so nothing from the stored string reaches the document.
func pngDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return html.EscapeString("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}
