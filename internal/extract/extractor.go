// Package extract provides text extraction from the document formats cvpost accepts.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/cvpost/internal/format"
	"go.uber.org/zap"
)

// DefaultMaxBytes is the largest payload Extract reads when no limit is configured.
const DefaultMaxBytes int64 = 10 << 20

// Func converts a payload of one kind into text.
type Func func(content []byte) (string, error)

// Extractor routes a file to the extractor for its kind.
type Extractor struct {
	funcs    map[format.Kind]Func
	maxBytes int64
	logger   *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// WithMaxBytes limits the payload size read by Extract. Values <= 0 keep the default.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// WithExtractorFunc replaces the extractor used for kind. Unsupported kinds are ignored.
func WithExtractorFunc(kind format.Kind, fn Func) Option {
	return func(e *Extractor) {
		if kind.Supported() && fn != nil {
			e.funcs[kind] = fn
		}
	}
}

// NewExtractor returns an Extractor wired to the PDF, DOCX and plain-text extractors.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		funcs: map[format.Kind]Func{
			format.PDF:  extractPDF,
			format.DOCX: extractDOCX,
			format.Text: extractPlain,
		},
		maxBytes: DefaultMaxBytes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract classifies name and extracts text from r with the matching extractor.
// Unsupported names fail with *UnsupportedFormatError before r is read.
// Read and parse failures are returned as *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, name string, r io.Reader) (string, error) {
	kind := format.Detect(name)
	if !kind.Supported() {
		e.logger.Debug("unsupported file", zap.String("name", name))
		return "", &UnsupportedFormatError{Name: name}
	}
	if err := ctx.Err(); err != nil {
		return "", &ExtractionError{Name: name, Kind: kind, Err: err}
	}
	content, err := readLimited(r, e.maxBytes)
	if err != nil {
		return "", &ExtractionError{Name: name, Kind: kind, Err: err}
	}
	return e.extractKind(name, kind, content)
}

// ExtractFile reads the file at path and extracts its text.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (string, error) {
	name := filepath.Base(path)
	if !format.Detect(name).Supported() {
		return "", &UnsupportedFormatError{Name: name}
	}
	f, err := os.Open(path)
	if err != nil {
		return "", &ExtractionError{Name: name, Kind: format.Detect(name), Err: fmt.Errorf("open file: %w", err)}
	}
	defer f.Close()
	return e.Extract(ctx, name, f)
}

// ExtractBytes extracts text from content of the given kind.
func (e *Extractor) ExtractBytes(content []byte, kind format.Kind) (string, error) {
	if !kind.Supported() {
		return "", &UnsupportedFormatError{}
	}
	return e.extractKind("", kind, content)
}

func (e *Extractor) extractKind(name string, kind format.Kind, content []byte) (string, error) {
	fn := e.funcs[kind]
	text, err := fn(content)
	if err != nil {
		e.logger.Debug("extraction failed", zap.String("name", name), zap.Stringer("kind", kind), zap.Error(err))
		return "", &ExtractionError{Name: name, Kind: kind, Err: err}
	}
	e.logger.Debug("extracted text",
		zap.String("name", name),
		zap.Stringer("kind", kind),
		zap.Int("bytes", len(content)),
		zap.Int("chars", len(text)),
	)
	return text, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if n > limit {
		return nil, fmt.Errorf("read file: %w (limit %d bytes)", ErrTooLarge, limit)
	}
	return buf.Bytes(), nil
}
