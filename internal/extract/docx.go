package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

// docxMainContentType is the content type for the main document in DOCX files.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// wordprocessingNS is the WordprocessingML namespace of w:p, w:t, w:tab and w:br.
const wordprocessingNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// markupCompatibilityNS is the namespace of mc:AlternateContent, used by Word for text boxes.
const markupCompatibilityNS = "http://schemas.openxmlformats.org/markup-compatibility/2006"

// partNameRe extracts PartName from Override elements in [Content_Types].xml.
var partNameRe = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)

// partNameRe2 handles the case where ContentType appears before PartName.
var partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

// readZipFile returns the contents of the named zip entry, or nil when it is absent.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		_ = rc.Close()
		return buf.Bytes(), nil
	}
	return nil, nil
}

// findDocxMainDocumentPath finds the main document path from [Content_Types].xml.
// Returns the path without leading slash, or empty string if not found.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	data, err := readZipFile(zr, contentTypesPath)
	if err != nil || data == nil {
		return ""
	}
	content := string(data)
	// Try both attribute orders
	if matches := partNameRe.FindStringSubmatch(content); len(matches) > 1 {
		return strings.TrimPrefix(matches[1], "/")
	}
	if matches := partNameRe2.FindStringSubmatch(content); len(matches) > 1 {
		return strings.TrimPrefix(matches[1], "/")
	}
	return ""
}

// extractDOCX extracts text from .docx bytes. DOCX is a ZIP whose main part (usually
// word/document.xml) holds the body as WordprocessingML. Runs inside a paragraph are
// concatenated and each paragraph ends a line.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("not a zip: %w", err)
	}

	// Find main document path from [Content_Types].xml, fall back to default
	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	docXML, err := readZipFile(zr, docPath)
	if err != nil {
		return "", err
	}
	if docXML == nil {
		return "", fmt.Errorf("%s not found", docPath)
	}
	return paragraphText(docXML)
}

// paragraphText walks the WordprocessingML body and returns the text of its w:t
// elements, with w:tab as a tab, w:br/w:cr as a line break and one line per w:p.
func paragraphText(docXML []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(docXML))
	var (
		b      strings.Builder
		inText bool
		// depth inside w:pPr/w:rPr, where w:tab declares tab stops instead of content
		props int
		// depth inside mc:Choice; its mc:Fallback sibling carries the same text
		choice int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document body: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if isChoice(t.Name) {
				choice++
				continue
			}
			if choice > 0 || !isWordElement(t.Name) {
				continue
			}
			switch t.Name.Local {
			case "pPr", "rPr":
				props++
			case "t":
				inText = true
			case "tab":
				if props == 0 {
					b.WriteByte('\t')
				}
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			if isChoice(t.Name) {
				choice--
				continue
			}
			if choice > 0 || !isWordElement(t.Name) {
				continue
			}
			switch t.Name.Local {
			case "pPr", "rPr":
				props--
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText && choice == 0 {
				b.Write(t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// isWordElement reports whether name is in the WordprocessingML namespace. Documents
// written without namespace declarations leave the space empty and are accepted too.
func isWordElement(name xml.Name) bool {
	return name.Space == wordprocessingNS || name.Space == "" || name.Space == "w"
}

// isChoice reports whether name is the mc:Choice branch of an mc:AlternateContent.
func isChoice(name xml.Name) bool {
	return name.Local == "Choice" && (name.Space == markupCompatibilityNS || name.Space == "mc")
}
