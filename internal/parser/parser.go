package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"document-qa/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	rpdf "rsc.io/pdf"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyDocument     = errors.New("document contains no text")
	ErrInvalidEncoding   = errors.New("document is not valid UTF-8")
)

const (
	FormatPDF      = "pdf"
	FormatText     = "txt"
	FormatMarkdown = "md"
	FormatDOCX     = "docx"
	FormatPPTX     = "pptx"
	FormatXLSX     = "xlsx"
	FormatXLSM     = "xlsm"
	FormatODS      = "ods"
)

var contentTypes = map[string]string{
	"application/pdf": FormatPDF,
	"text/plain":      FormatText,
	"text/markdown":   FormatMarkdown,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FormatDOCX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPPTX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         FormatXLSX,
	"application/vnd.oasis.opendocument.spreadsheet":                            FormatODS,
}

// DetectFormat picks the format from the file extension, falling back to the
// upload content type.
func DetectFormat(filename, contentType string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case FormatPDF, FormatText, FormatMarkdown, FormatDOCX, FormatPPTX, FormatXLSX, FormatXLSM, FormatODS:
		return ext, nil
	case "markdown":
		return FormatMarkdown, nil
	}
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if f, ok := contentTypes[mt]; ok {
				return f, nil
			}
		}
	}
	if ext == "" {
		ext = contentType
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// ExtractFile reads a document from disk and extracts its text.
func ExtractFile(filePath string) (*models.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return ExtractText(filepath.Base(filePath), "", data)
}

// ExtractText turns raw upload bytes into plain document text.
func ExtractText(filename, contentType string, data []byte) (*models.Document, error) {
	format, err := DetectFormat(filename, contentType)
	if err != nil {
		return nil, err
	}

	var pages []string
	switch format {
	case FormatPDF:
		pages, err = parsePDF(data)
	case FormatText:
		pages, err = parseText(data)
	case FormatMarkdown:
		pages, err = parseMarkdown(data)
	case FormatDOCX:
		pages, err = parseDOCX(data)
	case FormatPPTX:
		pages, err = parsePPTX(data)
	case FormatXLSX:
		pages, err = parseXLSX(data)
	case FormatXLSM, FormatODS:
		pages, err = parseSpreadsheet(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	text := strings.Join(pages, "")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	doc := &models.Document{
		Filename: filename,
		Format:   format,
		Text:     text,
		Pages:    len(pages),
	}
	if format == FormatText {
		doc.IsCSV = IsCSVContent(text)
	}
	log.Debug().Str("file", filename).Str("format", format).Int("pages", doc.Pages).Int("chars", len(text)).Msg("Extracted text")
	return doc, nil
}

// parsePDF returns the non-empty page texts in page order.
func parsePDF(data []byte) (pages []string, err error) {
	pages, err = parsePDFLedongthuc(data)
	if err == nil {
		return pages, nil
	}
	log.Warn().Err(err).Msg("Primary PDF reader failed, retrying with fallback")
	fallback, ferr := parsePDFRsc(data)
	if ferr != nil {
		return nil, fmt.Errorf("read pdf: %w", errors.Join(err, ferr))
	}
	return fallback, nil
}

func parsePDFLedongthuc(data []byte) (pages []string, err error) {
	// the reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if pageText != "" {
			pages = append(pages, pageText)
		}
	}
	return pages, nil
}

func parsePDFRsc(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	doc, err := rpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for i := 1; i <= doc.NumPage(); i++ {
		var sb strings.Builder
		for _, t := range doc.Page(i).Content().Text {
			sb.WriteString(t.S)
		}
		if sb.Len() > 0 {
			pages = append(pages, sb.String())
		}
	}
	return pages, nil
}

func parseText(data []byte) ([]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return nil, ErrInvalidEncoding
	}
	return []string{string(data)}, nil
}

func parseDOCX(data []byte) ([]string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// GetContent returns the raw document.xml
	content := r.Editable().GetContent()
	return []string{extractTextFromXML(content, "w:t", "</w:p>")}, nil
}

func parsePPTX(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range zr.File {
		name := file.Name
		if !strings.HasPrefix(name, "ppt/slides/slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
		if err != nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		if text := extractTextFromXML(string(body), "a:t", "</a:p>"); strings.TrimSpace(text) != "" {
			slides = append(slides, slide{num: num, text: text})
		}
	}
	// zip order is not slide order
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	pages := make([]string, len(slides))
	for i, s := range slides {
		pages[i] = s.text
	}
	return pages, nil
}

func parseXLSX(data []byte) ([]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, err
	}

	var pages []string
	for _, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t") + "\n")
		}
		pages = append(pages, text.String())
	}
	return pages, nil
}

func parseSpreadsheet(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t") + "\n")
		}
		pages = append(pages, text.String())
	}
	return pages, nil
}

// extractTextFromXML collects the character data of every <tag> element and
// emits a newline at each paragraph end marker.
func extractTextFromXML(xmlContent, tag, paragraphEnd string) string {
	var text strings.Builder
	for _, para := range strings.SplitAfter(xmlContent, paragraphEnd) {
		var line strings.Builder
		rest := para
		for {
			start := strings.Index(rest, "<"+tag)
			if start < 0 {
				break
			}
			rest = rest[start+len(tag)+1:]
			// skip <w:tab/>, <w:tbl> and similar tags sharing the prefix
			if rest == "" || (rest[0] != '>' && rest[0] != ' ') {
				continue
			}
			open := strings.IndexByte(rest, '>')
			if open < 0 || (open > 0 && rest[open-1] == '/') {
				continue
			}
			rest = rest[open+1:]
			end := strings.Index(rest, "</"+tag+">")
			if end < 0 {
				break
			}
			line.WriteString(unescapeXML(rest[:end]))
			rest = rest[end:]
		}
		if line.Len() > 0 {
			text.WriteString(line.String())
			text.WriteString("\n")
		}
	}
	return text.String()
}

var xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}
