package ingest

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

var whitespace = regexp.MustCompile(`\s+`)

var pdfMagic = []byte("%PDF-")

// Extract returns normalized printable text from an uploaded file. PDFs go
// through a real text extractor first; if that fails or yields nothing the
// raw bytes are decoded naively.
func Extract(data []byte) string {
	if bytes.HasPrefix(data, pdfMagic) {
		text, err := extractPDF(data)
		if err == nil {
			if cleaned := Clean(text); cleaned != "" {
				return cleaned
			}
		}
	}
	return Clean(string(data))
}

// Clean keeps printable ASCII and newlines, collapses whitespace runs to a
// single space and trims the result.
func Clean(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 0x20 && c <= 0x7E) || c == '\n' {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(sb.String(), " "))
}

func extractPDF(data []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(b), nil
}
