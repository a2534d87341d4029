package controllers

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
	"github.com/zaqqye/qr_backend_v1/internal/qrgen"
)

func TestNormalizeIDs(t *testing.T) {
	ids, err := normalizeIDs([]string{" 8A1F1A66-4B6B-4D0F-9A55-6D1CF2F0F7A1", "", "8a1f1a66-4b6b-4d0f-9a55-6d1cf2f0f7a1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"8a1f1a66-4b6b-4d0f-9a55-6d1cf2f0f7a1"}, ids)

	_, err = normalizeIDs([]string{"nope"})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, "invalid id: nope", err.Error())
}

func TestExportVersionUnmarshal(t *testing.T) {
	cases := map[string]string{
		`{"version":"1.0"}`:  "1.0",
		`{"version":" v2 "}`: "2",
		`{"version":1}`:      "1",
		`{"version":1.5}`:    "1.5",
		`{"version":null}`:   "",
	}
	for in, want := range cases {
		var doc exportDocument
		require.NoError(t, json.Unmarshal([]byte(in), &doc), in)
		assert.Equal(t, want, doc.Version.String(), in)
	}

	var doc exportDocument
	assert.Error(t, json.Unmarshal([]byte(`{"version":true}`), &doc))
}

func TestDownloadAndCopyNames(t *testing.T) {
	assert.Equal(t, "Summer-Sale-2024.png", downloadName("Summer Sale 2024!", qrgen.FormatPNG))
	assert.Equal(t, "qr-code.svg", downloadName("???", qrgen.FormatSVG))

	assert.Equal(t, "Menu (copy)", copyName("Menu"))
	long := copyName(strings.Repeat("x", 100))
	assert.Len(t, long, 100)
	assert.True(t, strings.HasSuffix(long, " (copy)"))

	wide := copyName(strings.Repeat("é", 100))
	assert.True(t, utf8.ValidString(wide))
	assert.Equal(t, 100, utf8.RuneCountInString(wide))
	assert.Equal(t, strings.Repeat("é", 93)+" (copy)", wide)
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 10))
	assert.Equal(t, "hé", truncate("héllo", 2))
	assert.Equal(t, "日本", truncate("日本語", 2))
	assert.True(t, utf8.ValidString(truncate(strings.Repeat("ü", 300), 255)))
}

func TestParseImportCSV(t *testing.T) {
	data := []byte("Name,Type,Content,Favorite,Style\n" +
		"Site,URL,https://example.com,true,\"{\"\"size\"\":256}\"\n" +
		"Odd,text,hi,perhaps,\n" +
		"Styled,text,hi,,not-json\n")
	rows, failures, err := parseImportCSV(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Row)
	assert.Equal(t, "url", rows[0].Code.Type)
	assert.True(t, rows[0].Code.Favorite)
	assert.Equal(t, 256, rows[0].Code.Style.Size)

	require.Len(t, failures, 2)
	assert.Equal(t, importRowError{Row: 2, Name: "Odd", Error: "invalid favorite value"}, failures[0])
	assert.Equal(t, importRowError{Row: 3, Name: "Styled", Error: "style must be a JSON object"}, failures[1])

	_, _, err = parseImportCSV([]byte("title,content\nx,y\n"))
	require.Error(t, err)
	assert.Equal(t, "missing header column: name", err.Error())
}

func TestValidateImportRow(t *testing.T) {
	ok := exportQrCode{Name: "  Mail ", Type: "EMAIL", Content: "a@example.com"}
	require.NoError(t, validateImportRow(&ok))
	assert.Equal(t, "Mail", ok.Name)
	assert.Equal(t, "email", ok.Type)

	big := exportQrCode{Name: "x", Type: "text", Content: "hi"}
	big.Style.Size = 4096
	assert.EqualError(t, validateImportRow(&big), "size must be at most 2048")

	assert.EqualError(t, validateImportRow(&exportQrCode{Type: "text", Content: "hi"}), "name is required")
}

func TestBindingErrorMessages(t *testing.T) {
	type payload struct {
		Name  string   `json:"name" binding:"required,max=5"`
		Color string   `json:"color" binding:"omitempty,hexcolor"`
		IDs   []string `json:"ids" binding:"required,min=1"`
		Size  int      `json:"size" binding:"omitempty,min=128"`
	}
	err := binding.Validator.ValidateStruct(&payload{Name: "toolong", Color: "red", IDs: []string{}, Size: 10})
	require.Error(t, err)
	msg := bindingError(err)
	assert.Contains(t, msg, "name must be at most 5 characters")
	assert.Contains(t, msg, "color must be a hex color such as #1a2b3c")
	assert.Contains(t, msg, "ids must contain at least 1 items")
	assert.Contains(t, msg, "size must be at least 128")

	var target payload
	assert.Equal(t, "size must be a number", bindingError(json.Unmarshal([]byte(`{"size":"big"}`), &target)))
	assert.Equal(t, "request body is not valid JSON", bindingError(json.Unmarshal([]byte(`{"size":`), &target)))
}
