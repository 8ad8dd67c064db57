package ingest

import (
	"fmt"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
)

// ExtractionError reports a file whose bytes could not be turned into text.
type ExtractionError struct {
	File string
	Kind models.FileKind
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not read %s: %v", e.File, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
