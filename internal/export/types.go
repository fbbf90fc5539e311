// Package export renders CRM data as CSV, HTML and PDF.
package export

import (
	"errors"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrInvalidCSV indicates an import file without the expected header row.
	ErrInvalidCSV = errors.New("invalid contacts csv")
)
