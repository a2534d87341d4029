package controllers

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
	"github.com/zaqqye/qr_backend_v1/internal/applog"
	"github.com/zaqqye/qr_backend_v1/internal/database"
	"github.com/zaqqye/qr_backend_v1/internal/events"
	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/qrgen"
	"github.com/zaqqye/qr_backend_v1/internal/utils"
)

// ExportVersion is written into every JSON export. Imports from newer versions are refused.
const ExportVersion = "1.0"

const DefaultMaxImportBytes = 5 << 20

var csvHeader = []string{"name", "type", "content", "favorite", "style", "created_at"}

type TransferController struct {
	Tenancy        *database.Tenancy
	Logger         *applog.Logger
	Events         events.Publisher
	MaxImportBytes int64
	Now            func() time.Time
}

type exportUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type exportQrCode struct {
	Name      string              `json:"name"`
	Type      string              `json:"type"`
	Content   string              `json:"content"`
	Favorite  bool                `json:"favorite"`
	Style     models.StyleOptions `json:"style"`
	CreatedAt time.Time           `json:"created_at"`
}

type exportTemplate struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Style       models.StyleOptions `json:"style"`
}

type exportDocument struct {
	Version    exportVersion    `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	User       exportUser       `json:"user"`
	QrCodes    []exportQrCode   `json:"qr_codes"`
	Templates  []exportTemplate `json:"templates"`
}

type importRowError struct {
	Row   int    `json:"row"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

type importRow struct {
	Row  int
	Code exportQrCode
}

func (tc *TransferController) now() time.Time {
	if tc.Now != nil {
		return tc.Now()
	}
	return time.Now()
}

func (tc *TransferController) maxBytes() int64 {
	if tc.MaxImportBytes > 0 {
		return tc.MaxImportBytes
	}
	return DefaultMaxImportBytes
}

// Export downloads the caller's codes as a JSON document (default) or a CSV sheet.
func (tc *TransferController) Export(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	if format != "json" && format != "csv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or csv"})
		return
	}

	user := currentUser(c)
	scope := scopeFor(c, false)
	var (
		codes     []models.QrCode
		templates []models.QrTemplate
	)
	err := tc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		if err := scope.Owned(tx.Model(&models.QrCode{})).Order("created_at ASC").Find(&codes).Error; err != nil {
			return err
		}
		return scope.Owned(tx.Model(&models.QrTemplate{})).Order("created_at ASC").Find(&templates).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	now := tc.now().UTC()
	stamp := now.Format("20060102")
	tc.Logger.FromGin(c, applog.EventDataExported, fmt.Sprintf("exported %d qr codes as %s", len(codes), format), map[string]any{"format": format, "qr_codes": len(codes), "templates": len(templates)})

	if format == "csv" {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write(csvHeader)
		for _, q := range codes {
			style, _ := json.Marshal(q.Style)
			_ = w.Write([]string{q.Name, q.Type, q.Content, strconv.FormatBool(q.Favorite), string(style), q.CreatedAt.UTC().Format(time.RFC3339)})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="qr-codes-%s.csv"`, stamp))
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
		return
	}

	doc := exportDocument{
		Version:    ExportVersion,
		ExportedAt: now,
		User:       exportUser{Email: user.Email, Name: user.Name},
		QrCodes:    make([]exportQrCode, 0, len(codes)),
		Templates:  make([]exportTemplate, 0, len(templates)),
	}
	for _, q := range codes {
		doc.QrCodes = append(doc.QrCodes, exportQrCode{Name: q.Name, Type: q.Type, Content: q.Content, Favorite: q.Favorite, Style: q.Style, CreatedAt: q.CreatedAt})
	}
	for _, t := range templates {
		doc.Templates = append(doc.Templates, exportTemplate{Name: t.Name, Description: t.Description, Style: t.Style})
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="qr-codes-%s.json"`, stamp))
	c.JSON(http.StatusOK, doc)
}

// Import reads a multipart "file" produced by Export. Rows are validated one by one;
// a bad row is reported and the rest still go in.
func (tc *TransferController) Import(c *gin.Context) {
	limit := tc.maxBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)
	if err := c.Request.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file must be at most %d bytes", limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to parse form"})
		return
	}
	file, fileHeader, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	if fileHeader.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file must be at most %d bytes", limit)})
		return
	}
	filename := strings.ToLower(strings.TrimSpace(fileHeader.Filename))
	isJSON := strings.HasSuffix(filename, ".json")
	if !isJSON && !strings.HasSuffix(filename, ".csv") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .json or .csv files are allowed"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	if int64(len(data)) > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file must be at most %d bytes", limit)})
		return
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if len(bytes.TrimSpace(data)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is empty"})
		return
	}

	var (
		rows      []importRow
		templates []exportTemplate
		failures  []importRowError
	)
	if isJSON {
		rows, templates, err = parseImportJSON(data)
	} else {
		rows, failures, err = parseImportCSV(data)
	}
	if err != nil {
		tc.Logger.FromGin(c, applog.EventDataImportFailed, err.Error(), map[string]any{"file": fileHeader.Filename})
		respondError(c, err)
		return
	}

	summary, tplSummary, rowErrs, inserted, err := tc.apply(c, rows, templates)
	if err != nil {
		respondError(c, err)
		return
	}
	// rows rejected while parsing never reach apply but still count
	summary["total_rows"] = len(rows) + len(failures)
	failures = append(failures, rowErrs...)
	summary["failed"] = len(failures)

	for _, q := range inserted {
		events.Emit(c.Request.Context(), tc.Events, events.SubjectQrCreated, qrEvent(q, "import"), log.Logger)
	}
	tc.Logger.FromGin(c, applog.EventDataImported, fmt.Sprintf("imported %d qr codes", summary["inserted"]), map[string]any{"file": fileHeader.Filename, "summary": summary})

	if failures == nil {
		failures = []importRowError{}
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "templates": tplSummary, "errors": failures})
}

func parseImportJSON(data []byte) ([]importRow, []exportTemplate, error) {
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, apperrors.Newf(apperrors.ErrInvalidInput, "file is not a valid export document")
	}
	v := doc.Version.String()
	if v == "" {
		return nil, nil, apperrors.Newf(apperrors.ErrInvalidInput, "export version is missing")
	}
	if _, err := utils.ParseVersion(v); err != nil {
		return nil, nil, apperrors.Newf(apperrors.ErrInvalidInput, "export version %q is not valid", v)
	}
	if utils.CompareVersions(v, ExportVersion) > 0 {
		return nil, nil, apperrors.Newf(apperrors.ErrInvalidInput, "export version %s is newer than supported version %s", v, ExportVersion)
	}
	rows := make([]importRow, 0, len(doc.QrCodes))
	for i, q := range doc.QrCodes {
		rows = append(rows, importRow{Row: i + 1, Code: q})
	}
	return rows, doc.Templates, nil
}

func parseImportCSV(data []byte) ([]importRow, []importRowError, error) {
	data = bytes.ReplaceAll(data, []byte{'\r', '\n'}, []byte{'\n'})
	data = bytes.ReplaceAll(data, []byte{'\r'}, []byte{'\n'})

	delimiter := ','
	firstLineEnd := bytes.IndexByte(data, '\n')
	if firstLineEnd == -1 {
		firstLineEnd = len(data)
	}
	firstLine := data[:firstLineEnd]
	if bytes.Contains(firstLine, []byte{';'}) && !bytes.Contains(firstLine, []byte{','}) {
		delimiter = ';'
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comma = delimiter

	header, err := reader.Read()
	if err != nil {
		return nil, nil, apperrors.Newf(apperrors.ErrInvalidInput, "failed to read header")
	}
	headerIdx := make(map[string]int, len(header))
	for idx, col := range header {
		key := strings.ToLower(strings.Trim(strings.TrimSpace(col), "\"'"))
		if key != "" {
			headerIdx[key] = idx
		}
	}
	for _, key := range []string{"name", "type", "content"} {
		if _, ok := headerIdx[key]; !ok {
			return nil, nil, apperrors.Newf(apperrors.ErrInvalidInput, "missing header column: %s", key)
		}
	}
	getVal := func(record []string, key string) string {
		idx, ok := headerIdx[key]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var (
		rows     []importRow
		failures []importRowError
	)
	rowNum := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			failures = append(failures, importRowError{Row: rowNum, Error: fmt.Sprintf("failed to read row: %v", err)})
			continue
		}
		q := exportQrCode{
			Name:    getVal(record, "name"),
			Type:    strings.ToLower(getVal(record, "type")),
			Content: getVal(record, "content"),
		}
		if fav := getVal(record, "favorite"); fav != "" {
			v, ok := parseBoolParam(fav)
			if !ok {
				failures = append(failures, importRowError{Row: rowNum, Name: q.Name, Error: "invalid favorite value"})
				continue
			}
			q.Favorite = v
		}
		if raw := getVal(record, "style"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &q.Style); err != nil {
				failures = append(failures, importRowError{Row: rowNum, Name: q.Name, Error: "style must be a JSON object"})
				continue
			}
		}
		rows = append(rows, importRow{Row: rowNum, Code: q})
	}
	return rows, failures, nil
}

func validateImportRow(q *exportQrCode) error {
	q.Name = strings.TrimSpace(q.Name)
	q.Content = strings.TrimSpace(q.Content)
	q.Type = strings.ToLower(strings.TrimSpace(q.Type))
	switch {
	case q.Name == "":
		return errors.New("name is required")
	case len([]rune(q.Name)) > 100:
		return errors.New("name must be at most 100 characters")
	}
	if _, err := qrgen.EncodeContent(q.Type, q.Content); err != nil {
		return err
	}
	if err := binding.Validator.ValidateStruct(&q.Style); err != nil {
		return errors.New(bindingError(err))
	}
	return qrgen.ValidateStyle(q.Style)
}

func validateTemplateStyle(style *models.StyleOptions) error {
	if err := binding.Validator.ValidateStruct(style); err != nil {
		return errors.New(bindingError(err))
	}
	return qrgen.ValidateStyle(*style)
}

func dedupeKey(name, content string) string {
	return strings.ToLower(name) + "\x00" + content
}

func (tc *TransferController) apply(c *gin.Context, rows []importRow, templates []exportTemplate) (gin.H, gin.H, []importRowError, []models.QrCode, error) {
	user := currentUser(c)
	scope := scopeFor(c, false)
	var (
		failures []importRowError
		inserted []models.QrCode
		skipped  int

		tplIn, tplSkip, tplFailed int
	)
	err := tc.Tenancy.Run(c.Request.Context(), scope, func(tx *gorm.DB) error {
		var existing []models.QrCode
		if err := scope.Owned(tx.Model(&models.QrCode{})).Select("name", "content").Find(&existing).Error; err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(existing)+len(rows))
		for _, q := range existing {
			seen[dedupeKey(q.Name, q.Content)] = struct{}{}
		}

		for _, r := range rows {
			q := r.Code
			if err := validateImportRow(&q); err != nil {
				failures = append(failures, importRowError{Row: r.Row, Name: q.Name, Error: err.Error()})
				continue
			}
			key := dedupeKey(q.Name, q.Content)
			if _, dup := seen[key]; dup {
				skipped++
				continue
			}
			row := models.QrCode{UserID: user.ID, Name: q.Name, Type: q.Type, Content: q.Content, Favorite: q.Favorite, Style: q.Style}
			if err := tx.Transaction(func(sp *gorm.DB) error { return sp.Create(&row).Error }); err != nil {
				failures = append(failures, importRowError{Row: r.Row, Name: q.Name, Error: "failed to insert qr code"})
				continue
			}
			seen[key] = struct{}{}
			inserted = append(inserted, row)
		}

		if len(templates) == 0 {
			return nil
		}
		var ownNames []string
		if err := scope.Owned(tx.Model(&models.QrTemplate{})).Pluck("name", &ownNames).Error; err != nil {
			return err
		}
		names := make(map[string]struct{}, len(ownNames))
		for _, n := range ownNames {
			names[strings.ToLower(n)] = struct{}{}
		}
		for _, t := range templates {
			name := strings.TrimSpace(t.Name)
			if name == "" || len([]rune(name)) > 100 || validateTemplateStyle(&t.Style) != nil {
				tplFailed++
				continue
			}
			if _, dup := names[strings.ToLower(name)]; dup {
				tplSkip++
				continue
			}
			row := models.QrTemplate{UserID: &user.ID, Name: name, Description: strings.TrimSpace(t.Description), Style: t.Style}
			if err := tx.Transaction(func(sp *gorm.DB) error { return sp.Create(&row).Error }); err != nil {
				tplFailed++
				continue
			}
			names[strings.ToLower(name)] = struct{}{}
			tplIn++
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	summary := gin.H{
		"total_rows": len(rows),
		"inserted":   len(inserted),
		"skipped":    skipped,
		"failed":     len(failures),
	}
	tplSummary := gin.H{"total": len(templates), "inserted": tplIn, "skipped": tplSkip, "failed": tplFailed}
	return summary, tplSummary, failures, inserted, nil
}
