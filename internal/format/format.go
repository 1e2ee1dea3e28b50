// Package format classifies input files by name into the document kinds cvpost can extract.
package format

import (
	"path/filepath"
	"strings"
)

// Kind is the closed set of document kinds recognized by Detect.
type Kind int

const (
	// Unsupported is any file whose suffix is not accepted.
	Unsupported Kind = iota
	// PDF is a .pdf document.
	PDF
	// DOCX is a .docx (OOXML word processing) document.
	DOCX
	// Text is a .txt plain-text document.
	Text
)

// suffixes maps accepted file suffixes (lower case, with leading dot) to their kind.
var suffixes = map[string]Kind{
	".pdf":  PDF,
	".docx": DOCX,
	".txt":  Text,
}

// String returns the display name of the kind (e.g. "PDF").
func (k Kind) String() string {
	switch k {
	case PDF:
		return "PDF"
	case DOCX:
		return "DOCX"
	case Text:
		return "TXT"
	default:
		return "unsupported"
	}
}

// Supported reports whether k is one of the extractable kinds.
func (k Kind) Supported() bool {
	return k == PDF || k == DOCX || k == Text
}

// Detect classifies name by its suffix. Matching ignores case, so "Resume.PDF" is a PDF.
// The file content is never inspected.
func Detect(name string) Kind {
	ext := strings.ToLower(filepath.Ext(name))
	if k, ok := suffixes[ext]; ok {
		return k
	}
	return Unsupported
}

// Accepted returns the accepted suffixes in display order.
func Accepted() []string {
	return []string{".pdf", ".docx", ".txt"}
}

// AcceptedNames returns a human-readable list of accepted kinds, e.g. "PDF, DOCX, or TXT".
func AcceptedNames() string {
	return PDF.String() + ", " + DOCX.String() + ", or " + Text.String()
}
