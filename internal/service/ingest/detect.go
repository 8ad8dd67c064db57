package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
)

// ErrRejectedFormat marks a file whose extension is not in the supported table.
var ErrRejectedFormat = errors.New("unsupported file format")

var kindByExt = map[string]models.FileKind{
	"csv":  models.KindDelimitedText,
	"txt":  models.KindDelimitedText,
	"xlsx": models.KindSpreadsheet,
	"xls":  models.KindSpreadsheet,
	"doc":  models.KindWordDocument,
	"docx": models.KindWordDocument,
}

// Detect maps a filename to its content kind using the lower-cased suffix after the last dot.
func Detect(filename string) (models.FileKind, error) {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", ErrRejectedFormat, filename)
	}
	kind, ok := kindByExt[strings.ToLower(filename[idx+1:])]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRejectedFormat, filename)
	}
	return kind, nil
}

// SupportedExtensions lists the accepted suffixes, dot-prefixed, for upload surfaces.
func SupportedExtensions() []string {
	return []string{".csv", ".txt", ".xlsx", ".xls", ".doc", ".docx"}
}
