package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
)

// Metadata keys set by the parsers on the produced document.
const (
	MetaLineCount  = "line_count"
	MetaRowCount   = "row_count"
	MetaSheetCount = "sheet_count"
	MetaWordCount  = "word_count"
)

const utf8BOM = "\uFEFF"

// Extractor turns raw uploads into normalized text, one parser per content kind.
type Extractor struct {
	parsers map[models.FileKind]parser.Parser
}

// NewExtractor wires the default parser for every supported kind.
func NewExtractor() *Extractor {
	return &Extractor{parsers: map[models.FileKind]parser.Parser{
		models.KindDelimitedText: parser.TextParser{},
		models.KindSpreadsheet:   SpreadsheetParser{},
		models.KindWordDocument:  WordParser{},
	}}
}

// WithParser replaces the parser used for kind.
func (e *Extractor) WithParser(kind models.FileKind, p parser.Parser) *Extractor {
	e.parsers[kind] = p
	return e
}

// Extract decodes one file. Failures are returned as *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, file models.RawFile, kind models.FileKind) (models.ExtractionResult, error) {
	fail := func(err error) (models.ExtractionResult, error) {
		return models.ExtractionResult{}, &ExtractionError{File: file.Name, Kind: kind, Err: err}
	}
	p, ok := e.parsers[kind]
	if !ok {
		return fail(fmt.Errorf("no parser for %s", kind))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	docs, err := p.Parse(ctx, bytes.NewReader(file.Bytes),
		parser.WithURI(file.Name),
		parser.WithExtraMeta(map[string]any{"kind": string(kind)}),
	)
	if err != nil {
		return fail(err)
	}
	if len(docs) == 0 || docs[0] == nil {
		return fail(errors.New("parser returned no document"))
	}
	doc := docs[0]

	res := models.ExtractionResult{Kind: kind, Text: doc.Content}
	switch kind {
	case models.KindDelimitedText:
		res.Text = strings.TrimPrefix(res.Text, utf8BOM)
		res.LineCount = countNonBlankLines(res.Text)
	case models.KindSpreadsheet:
		res.RowCount = metaInt(doc, MetaRowCount)
		res.SheetCount = metaInt(doc, MetaSheetCount)
	case models.KindWordDocument:
		res.WordCount = len(strings.Fields(res.Text))
	}
	return res, nil
}

// Prepared is a file that went through detection, extraction and truncation.
type Prepared struct {
	File    models.RawFile
	Result  models.ExtractionResult
	Content models.TruncatedContent
}

func (p Prepared) Record() models.FileRecord {
	return models.NewFileRecord(p.File, p.Result, p.Content.WasTruncated)
}

func (p Prepared) AnalysisFile() models.AnalysisFile {
	return models.AnalysisFile{Name: p.File.Name, Text: p.Content.Text, WasTruncated: p.Content.WasTruncated}
}

// Prepare runs the full per-file pipeline.
func (e *Extractor) Prepare(ctx context.Context, file models.RawFile, maxChars int) (Prepared, error) {
	kind, err := Detect(file.Name)
	if err != nil {
		return Prepared{}, err
	}
	res, err := e.Extract(ctx, file, kind)
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{File: file, Result: res, Content: Truncate(res.Text, maxChars)}, nil
}

func countNonBlankLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func metaInt(doc *schema.Document, key string) int {
	if doc.MetaData == nil {
		return 0
	}
	switch v := doc.MetaData[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}
