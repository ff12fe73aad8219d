package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/fabfab/campus-assistant/textnorm"
)

// Metadata keys every Document carries.
const (
	MetaDocType = "doc_type"
	MetaSource  = "source"
	MetaRow     = "row"
	MetaFormat  = "format"
)

// Document is the normalized text of one CSV row or one PDF file.
type Document struct {
	Text     string
	Metadata map[string]string
}

// DocType returns the category recorded in the document metadata.
func (d Document) DocType() DocType {
	return DocType(d.Metadata[MetaDocType])
}

// Loader reads source files and renders them into Documents.
type Loader struct {
	encoding      string
	maxFieldRunes int
	logger        *log.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithEncoding sets the text encoding CSV files are decoded from.
func WithEncoding(name string) LoaderOption {
	return func(l *Loader) {
		if name != "" {
			l.encoding = name
		}
	}
}

// WithMaxFieldRunes sets the truncation budget for long free-text fields.
func WithMaxFieldRunes(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxFieldRunes = n
		}
	}
}

func NewLoader(logger *log.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = log.Default()
	}

	l := &Loader{
		encoding:      "utf-8",
		maxFieldRunes: DefaultMaxFieldRunes,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load renders every path into Documents. Files whose name does not map to a
// DocType are skipped with a warning. Read failures do not stop the remaining
// files; they are returned joined once every path was visited.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]Document, error) {
	var (
		docs []Document
		errs []error
	)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		docType := Classify(path)
		if docType == TypeUnknown {
			l.logger.Printf("warning: skipping %s: unrecognized document type", path)
			continue
		}

		var (
			loaded []Document
			err    error
		)
		switch DetectFormat(path) {
		case FormatCSV:
			loaded, err = l.loadCSV(path, docType)
		case FormatPDF:
			loaded, err = l.loadPDF(path, docType)
		default:
			l.logger.Printf("warning: skipping %s: unsupported format", path)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", path, err))
			continue
		}

		l.logger.Printf("loaded %d %s documents from %s", len(loaded), docType, filepath.Base(path))
		docs = append(docs, loaded...)
	}

	return docs, errors.Join(errs...)
}

func (l *Loader) loadCSV(path string, docType DocType) ([]Document, error) {
	tpl, ok := TemplateFor(docType)
	if !ok {
		return nil, fmt.Errorf("no template for document type %q", docType)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	decoded, err := textnorm.NewDecoder(f, l.encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	columns := tpl.columnIndex(headers)
	source := SourceName(path)

	docs := make([]Document, 0)
	for rowNum := 1; ; rowNum++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", rowNum, err)
		}
		if blankRow(row) {
			continue
		}

		metadata := make(map[string]string, len(headers)+4)
		for i, header := range headers {
			if header == "" || i >= len(row) {
				continue
			}
			metadata[header] = strings.TrimSpace(row[i])
		}
		metadata[MetaDocType] = string(docType)
		metadata[MetaSource] = source
		metadata[MetaRow] = strconv.Itoa(rowNum)
		metadata[MetaFormat] = string(FormatCSV)

		docs = append(docs, Document{
			Text:     tpl.Render(columns, row, l.maxFieldRunes),
			Metadata: metadata,
		})
	}

	return docs, nil
}

func (l *Loader) loadPDF(path string, docType DocType) ([]Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}
	data, err := io.ReadAll(plain)
	if err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	content := textnorm.CollapseSpace(string(data))
	if content == "" {
		l.logger.Printf("warning: %s has no extractable text", path)
		return nil, nil
	}

	source := SourceName(path)
	title := strings.TrimSuffix(source, filepath.Ext(source))

	return []Document{{
		Text: fmt.Sprintf("Documento: %s\n%s", title, content),
		Metadata: map[string]string{
			MetaDocType: string(docType),
			MetaSource:  source,
			MetaRow:     "0",
			MetaFormat:  string(FormatPDF),
		},
	}}, nil
}

// SourceName is the value stored under MetaSource for documents loaded from path.
func SourceName(path string) string {
	return filepath.Base(path)
}

// Discover lists the CSV and PDF files below dir in lexical order.
func Discover(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}

	paths := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if DetectFormat(path) != FormatUnknown {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk data directory: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

func blankRow(row []string) bool {
	for _, value := range row {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}
