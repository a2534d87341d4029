package qrgen

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
	"github.com/zaqqye/qr_backend_v1/internal/models"
)

func intPtr(v int) *int { return &v }

func moduleCount(t *testing.T, content string, level qrcode.RecoveryLevel) int {
	t.Helper()
	q, err := qrcode.New(content, level)
	require.NoError(t, err)
	q.DisableBorder = true
	return len(q.Bitmap())
}

func decodePNG(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	return img
}

func isDark(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r < 0x4000 && g < 0x4000 && b < 0x4000
}

func TestRenderPNGGeometry(t *testing.T) {
	n := moduleCount(t, "hello", qrcode.Medium)
	quiet := 2
	mod := 10
	size := (n + 2*quiet) * mod

	var buf bytes.Buffer
	err := RenderPNG(&buf, "hello", models.StyleOptions{Size: size, Margin: intPtr(quiet)})
	require.NoError(t, err)

	img := decodePNG(t, buf.Bytes())
	assert.Equal(t, size, img.Bounds().Dx())
	assert.Equal(t, size, img.Bounds().Dy())

	// quiet zone is background, the top-left finder pattern is dark
	assert.False(t, isDark(img.At(mod/2, mod/2)))
	assert.True(t, isDark(img.At(quiet*mod+mod/2, quiet*mod+mod/2)))
	// finder ring is hollow one module in
	assert.False(t, isDark(img.At((quiet+1)*mod+mod/2, (quiet+1)*mod+mod/2)))
}

func TestRenderPNGColors(t *testing.T) {
	var buf bytes.Buffer
	style := models.StyleOptions{Size: 200, Margin: intPtr(4), ForegroundColor: "#ff0000", BackgroundColor: "#0f0"}
	require.NoError(t, RenderPNG(&buf, "colors", style))

	img := decodePNG(t, buf.Bytes())
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.Equal(t, uint32(0), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0), b)
}

func TestRenderPNGFrameAddsBand(t *testing.T) {
	var buf bytes.Buffer
	style := models.StyleOptions{Size: 400, FrameText: "SCAN ME"}
	require.NoError(t, RenderPNG(&buf, "framed", style))

	img := decodePNG(t, buf.Bytes())
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 400+64, img.Bounds().Dy())
	// frame defaults to the foreground colour
	assert.True(t, isDark(img.At(0, 0)))
}

func TestRenderPNGRoundedModules(t *testing.T) {
	var buf bytes.Buffer
	style := models.StyleOptions{Size: 256, CornerRadius: 0.5}
	require.NoError(t, RenderPNG(&buf, "rounded", style))
	assert.NotZero(t, buf.Len())
}

func tinyLogo(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for x := 0; x < 8; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestRenderPNGWithLogo(t *testing.T) {
	var buf bytes.Buffer
	style := models.StyleOptions{Size: 300, Logo: tinyLogo(t), LogoScale: 0.2}
	require.NoError(t, RenderPNG(&buf, "https://example.com", style))

	img := decodePNG(t, buf.Bytes())
	r, g, b, _ := img.At(150, 150).RGBA()
	assert.InDelta(t, 200*0x101, int(r), 3*0x101)
	assert.InDelta(t, 0, int(g), 3*0x101)
	assert.InDelta(t, 0, int(b), 3*0x101)
}

func TestRenderRejectsBadInput(t *testing.T) {
	t.Run("logo", func(t *testing.T) {
		err := RenderPNG(&bytes.Buffer{}, "x", models.StyleOptions{Logo: "data:image/png;base64,@@@"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
		assert.Equal(t, "logo must be a base64 data URL", err.Error())
	})
	t.Run("logo not an image", func(t *testing.T) {
		logo := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello"))
		err := RenderSVG(&bytes.Buffer{}, "x", models.StyleOptions{Logo: logo})
		require.Error(t, err)
		assert.Equal(t, "logo must be a PNG, JPEG or GIF image", err.Error())
	})
	t.Run("color", func(t *testing.T) {
		err := RenderPNG(&bytes.Buffer{}, "x", models.StyleOptions{ForegroundColor: "red"})
		require.Error(t, err)
		assert.Equal(t, "foreground_color must be a hex color", err.Error())
	})
}

func TestRenderSVG(t *testing.T) {
	var buf bytes.Buffer
	style := models.StyleOptions{Size: 300, FrameText: "A & B", ForegroundColor: "#112233"}
	require.NoError(t, RenderSVG(&buf, "svg content", style))

	out := buf.String()
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "<?xml"))
	assert.Contains(t, out, "viewBox")
	assert.Contains(t, out, "fill:#112233")
	assert.Contains(t, out, "A &amp; B")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "</svg>"))
}

func TestParseHexColor(t *testing.T) {
	c, err := parseHexColor("#fff")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, c)

	c, err = parseHexColor("#00000080")
	require.NoError(t, err)
	assert.Equal(t, uint8(0x80), c.A)

	c, err = parseHexColor("#1234")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 0x11, G: 0x22, B: 0x33, A: 0x44}, c)

	_, err = parseHexColor("#12345")
	assert.Error(t, err)
	_, err = parseHexColor("#gggggg")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, f)
	assert.Equal(t, "image/png", f.ContentType())

	f, err = ParseFormat("svg")
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", f.ContentType())

	_, err = ParseFormat("gif")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestValidateStyle(t *testing.T) {
	assert.NoError(t, ValidateStyle(models.StyleOptions{}))
	assert.NoError(t, ValidateStyle(models.StyleOptions{Logo: tinyLogo(t)}))

	err := ValidateStyle(models.StyleOptions{FrameColor: "#12"})
	require.Error(t, err)
	assert.Equal(t, "frame_color must be a hex color", err.Error())

	err = ValidateStyle(models.StyleOptions{Logo: "data:image/png,raw"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestValidateStyleRanges(t *testing.T) {
	cases := []struct {
		name  string
		style models.StyleOptions
		want  string
	}{
		{"size too large", models.StyleOptions{Size: 5000000}, "size must be at most 2048"},
		{"size negative", models.StyleOptions{Size: -1}, "size must be at least 128"},
		{"margin negative", models.StyleOptions{Margin: intPtr(-40)}, "margin must be at least 0"},
		{"margin too large", models.StyleOptions{Margin: intPtr(11)}, "margin must be at most 10"},
		{"corner radius", models.StyleOptions{CornerRadius: 7}, "corner_radius must be between 0 and 0.5"},
		{"logo scale", models.StyleOptions{LogoScale: 9}, "logo_scale must be between 0.1 and 0.3"},
		{"frame text", models.StyleOptions{FrameText: strings.Repeat("é", 41)}, "frame_text must be at most 40 characters"},
		{"error correction", models.StyleOptions{ErrorCorrection: "X"}, "error_correction must be one of L M Q H"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateStyle(tc.style)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
			assert.Equal(t, tc.want, err.Error())
		})
	}

	assert.NoError(t, ValidateStyle(models.StyleOptions{FrameText: strings.Repeat("é", 40), CornerRadius: 0.5, LogoScale: 0.3}))
}

func TestRenderRefusesOutOfRangeStyle(t *testing.T) {
	err := RenderPNG(&bytes.Buffer{}, "x", models.StyleOptions{Size: 5000000})
	require.Error(t, err)
	assert.Equal(t, "size must be at most 2048", err.Error())
}

func TestLogoHeaderMustBeImageType(t *testing.T) {
	payload := strings.TrimPrefix(tinyLogo(t), "data:image/png;base64,")
	for _, header := range []string{
		`data:image/png" onload="alert(document.domain)" x=";base64`,
		"data:text/html;base64",
		"data:image/svg+xml;base64",
	} {
		style := models.StyleOptions{Logo: header + "," + payload}
		err := ValidateStyle(style)
		require.Error(t, err, header)
		assert.Equal(t, "logo must be a base64 data URL", err.Error())
		assert.Error(t, RenderSVG(&bytes.Buffer{}, "x", style))
	}

	assert.NoError(t, ValidateStyle(models.StyleOptions{Logo: payload}))
}

func TestRenderSVGReencodesLogo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderSVG(&buf, "https://example.com", models.StyleOptions{Size: 300, Logo: tinyLogo(t)}))

	out := buf.String()
	assert.Contains(t, out, `xlink:href="data:image/png;base64,`)
	assert.NotContains(t, out, "onload")
}

func TestLogoDimensionsAreCapped(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, MaxLogoSide+1, 1))))
	logo := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	err := ValidateStyle(models.StyleOptions{Logo: logo})
	require.Error(t, err)
	assert.Equal(t, "logo must be at most 4096x4096 pixels", err.Error())
}
