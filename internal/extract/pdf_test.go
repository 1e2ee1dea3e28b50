package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/cvpost/internal/format"
	"github.com/ledongthuc/pdf"
)

// pdfFragment is a text run drawn at (x, y) on a page.
type pdfFragment struct {
	x, y float64
	text string
}

// buildPDF returns a minimal PDF with one page per entry of pages, each drawing its
// fragments in Helvetica 12pt. Offsets in the xref table are computed exactly.
func buildPDF(pages [][]pdfFragment) []byte {
	var objs []string
	// 1: catalog, 2: pages, 3: font, then page/content pairs.
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	widths := strings.TrimSpace(strings.Repeat("500 ", 126-32+1))
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths ["+widths+"] >>",
	)
	for i, frags := range pages {
		var stream strings.Builder
		for _, f := range frags {
			fmt.Fprintf(&stream, "BT /F1 12 Tf %g %g Td (%s) Tj ET\n", f.x, f.y, f.text)
		}
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", stream.Len(), stream.String()),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestExtractPDF_twoPages(t *testing.T) {
	content := buildPDF([][]pdfFragment{
		{{72, 700, "Name:"}, {200, 700, "Jane"}},
		{{72, 700, "Skills:"}, {200, 700, "Go"}},
	})
	got, err := NewExtractor().ExtractBytes(content, format.PDF)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Name: Jane\nSkills: Go\n" {
		t.Errorf("got %q", got)
	}
}

func TestExtractPDF_pageCountMatchesSegments(t *testing.T) {
	for _, n := range []int{1, 3, 5} {
		pages := make([][]pdfFragment, n)
		for i := range pages {
			pages[i] = []pdfFragment{{72, 700, fmt.Sprintf("Page%d", i+1)}}
		}
		got, err := NewExtractor().ExtractBytes(buildPDF(pages), format.PDF)
		if err != nil {
			t.Fatalf("%d pages: %v", n, err)
		}
		if !strings.HasSuffix(got, "\n") {
			t.Fatalf("%d pages: output not newline terminated: %q", n, got)
		}
		segments := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
		if len(segments) != n {
			t.Fatalf("%d pages: got %d segments: %q", n, len(segments), got)
		}
		for i, seg := range segments {
			if seg != fmt.Sprintf("Page%d", i+1) {
				t.Errorf("%d pages: segment %d = %q", n, i, seg)
			}
		}
	}
}

func TestExtractPDF_zeroPages(t *testing.T) {
	got, err := NewExtractor().ExtractBytes(buildPDF(nil), format.PDF)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "" {
		t.Errorf("got %q", got)
	}
}

func TestExtractPDF_malformed(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("this is not a pdf at all, just some text that is long enough to read"), format.PDF)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected *ExtractionError, got %v", err)
	}
	if extErr.Kind != format.PDF {
		t.Errorf("kind = %v", extErr.Kind)
	}
}

func TestExtractPDF_truncated(t *testing.T) {
	content := buildPDF([][]pdfFragment{{{72, 700, "Hello"}}})
	_, err := NewExtractor().ExtractBytes(content[:len(content)/2], format.PDF)
	if err == nil {
		t.Fatal("expected error for truncated PDF")
	}
}

type fakePages struct {
	pages [][]string
	err   error
}

func (f fakePages) NumPage() int { return len(f.pages) }

func (f fakePages) Fragments(n int) ([]string, error) {
	if f.err != nil && n == len(f.pages) {
		return nil, f.err
	}
	return f.pages[n-1], nil
}

func TestJoinPages(t *testing.T) {
	tests := []struct {
		name  string
		pages [][]string
		want  string
	}{
		{"none", nil, ""},
		{"empty page", [][]string{{}}, "\n"},
		{"two pages", [][]string{{"Name:", "Jane"}, {"Skills:", "Go"}}, "Name: Jane\nSkills: Go\n"},
		{"blank middle page", [][]string{{"a"}, nil, {"b", "c"}}, "a\n\nb c\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := joinPages(fakePages{pages: tt.pages})
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJoinPages_pageError(t *testing.T) {
	boom := errors.New("boom")
	_, err := joinPages(fakePages{pages: [][]string{{"a"}, {"b"}}, err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped page error, got %v", err)
	}
	if !strings.Contains(err.Error(), "page 2") {
		t.Errorf("error should name the page: %v", err)
	}
}

func TestGroupFragments(t *testing.T) {
	glyph := func(x float64, s string) pdf.Text {
		return pdf.Text{FontSize: 12, X: x, Y: 700, W: 6, S: s}
	}
	tests := []struct {
		name   string
		glyphs []pdf.Text
		want   []string
	}{
		{"empty", nil, nil},
		{"contiguous glyphs form one fragment", []pdf.Text{glyph(72, "G"), glyph(78, "o")}, []string{"Go"}},
		{"gap splits", []pdf.Text{glyph(72, "a"), glyph(78, "b"), glyph(200, "c")}, []string{"ab", "c"}},
		{"whitespace glyph splits", []pdf.Text{glyph(72, "a"), glyph(78, " "), glyph(84, "b")}, []string{"a", "b"}},
		{"space run collapses", []pdf.Text{glyph(72, "a"), glyph(78, " "), glyph(84, " "), glyph(90, " "), glyph(96, "b")}, []string{"a", "b"}},
		{"new baseline splits", []pdf.Text{glyph(72, "a"), {FontSize: 12, X: 78, Y: 680, W: 6, S: "b"}}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := groupFragments(tt.glyphs)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
