package extract

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pageSource is a paginated document whose pages yield ordered text fragments.
type pageSource interface {
	NumPage() int
	Fragments(page int) ([]string, error)
}

func extractPDF(content []byte) (text string, err error) {
	// ledongthuc/pdf panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed PDF: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	return joinPages(pdfPages{r: r})
}

// joinPages joins each page's fragments with single spaces and terminates every
// page with a newline, in page order starting at 1.
func joinPages(src pageSource) (string, error) {
	var buf strings.Builder
	numPages := src.NumPage()
	for i := 1; i <= numPages; i++ {
		frags, err := src.Fragments(i)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		buf.WriteString(strings.Join(frags, " "))
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}

type pdfPages struct {
	r *pdf.Reader
}

func (p pdfPages) NumPage() int {
	return p.r.NumPage()
}

func (p pdfPages) Fragments(n int) ([]string, error) {
	page := p.r.Page(n)
	if page.V.IsNull() {
		return nil, nil
	}
	return groupFragments(page.Content().Text), nil
}

// groupFragments merges the glyphs reported by the layout pass into fragments.
// Consecutive glyphs on the same baseline with no horizontal gap belong to one fragment.
// A whitespace glyph ends the fragment, so a run of spaces inside one text-show
// operator becomes a single separator once fragments are joined.
func groupFragments(glyphs []pdf.Text) []string {
	var out []string
	var cur strings.Builder
	var prev pdf.Text
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, g := range glyphs {
		if strings.TrimSpace(g.S) == "" {
			flush()
			continue
		}
		if cur.Len() > 0 && !adjacent(prev, g) {
			flush()
		}
		cur.WriteString(g.S)
		prev = g
	}
	flush()
	return out
}

func adjacent(prev, next pdf.Text) bool {
	size := math.Max(prev.FontSize, 1)
	if math.Abs(next.Y-prev.Y) > size/2 {
		return false
	}
	gap := next.X - (prev.X + prev.W)
	return gap > -size/2 && gap < size/5
}
