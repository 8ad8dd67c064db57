package models

// FileKind is the closed set of content kinds the extractor understands.
type FileKind string

const (
	KindDelimitedText FileKind = "delimited-text"
	KindSpreadsheet   FileKind = "spreadsheet"
	KindWordDocument  FileKind = "word-document"
)

// RawFile is an uploaded file as received. It is never mutated after upload.
type RawFile struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Bytes     []byte `json:"-"`
}

// ExtractionResult is the normalized text of one file plus kind-specific counters.
type ExtractionResult struct {
	Kind       FileKind `json:"kind"`
	Text       string   `json:"-"`
	LineCount  int      `json:"line_count,omitempty"`
	RowCount   int      `json:"row_count,omitempty"`
	SheetCount int      `json:"sheet_count,omitempty"`
	WordCount  int      `json:"word_count,omitempty"`
}

type TruncatedContent struct {
	Text         string `json:"text"`
	WasTruncated bool   `json:"was_truncated"`
}

// FileRecord describes an analyzed file. Created once on a successful batch.
type FileRecord struct {
	Name         string   `json:"name"`
	SizeBytes    int64    `json:"size_bytes"`
	Kind         FileKind `json:"kind"`
	LineCount    int      `json:"line_count,omitempty"`
	RowCount     int      `json:"row_count,omitempty"`
	SheetCount   int      `json:"sheet_count,omitempty"`
	WordCount    int      `json:"word_count,omitempty"`
	WasTruncated bool     `json:"was_truncated"`
}

// NewFileRecord builds the record of file from its extraction and truncation outcome.
func NewFileRecord(file RawFile, res ExtractionResult, wasTruncated bool) FileRecord {
	return FileRecord{
		Name:         file.Name,
		SizeBytes:    file.SizeBytes,
		Kind:         res.Kind,
		LineCount:    res.LineCount,
		RowCount:     res.RowCount,
		SheetCount:   res.SheetCount,
		WordCount:    res.WordCount,
		WasTruncated: wasTruncated,
	}
}

// AnalysisFile is one entry of a batch request.
type AnalysisFile struct {
	Name         string
	Text         string
	WasTruncated bool
}
