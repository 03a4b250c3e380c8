// Package extract implements text extraction: a small extension/MIME
// to func registry keyed on file extension. It never raises on an
// unsupported type; it emits a placeholder instead so the pipeline
// still records the file.
package extract

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"
)

// Result is one file's extracted text plus its detected MIME type, so
// callers can catalog the file without re-sniffing it.
type Result struct {
	Text     string
	MimeType string
}

// Extractor reads a file and yields normalized UTF-8 text.
type Extractor func(path string, raw []byte) (string, error)

// registry is the closed dispatch table spec.md §4.D describes: adding a
// type is a code change, not configuration.
var registry = map[string]Extractor{
	".txt": extractPlainText,
	".md":  extractPlainText,
	".pdf": extractPDF,
	".docx": extractDOCX,
}

// extensionMIME covers the file types registry dispatches on directly;
// anything else falls back to filetype sniffing.
var extensionMIME = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Extract reads path and dispatches on its extension, falling back to
// MIME sniffing and finally best-effort UTF-8 decoding. It never returns
// an error for an unsupported type; callers only see an error when the
// file itself could not be read.
func Extract(path string) (Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("extract: read %s: %w", path, err)
	}
	return ExtractBytes(path, raw)
}

// ExtractBytes runs the dispatch table against already-read bytes, so
// callers that already have the content in memory (e.g. from the scanner)
// need not re-read the file.
func ExtractBytes(path string, raw []byte) (Result, error) {
	mime := detectMIME(path, raw)

	ext := strings.ToLower(filepath.Ext(path))
	if fn, ok := registry[ext]; ok {
		text, err := fn(path, raw)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: text, MimeType: mime}, nil
	}

	if kind, err := filetype.Match(raw); err == nil && kind != filetype.Unknown {
		if strings.HasPrefix(kind.MIME.Value, "text/") {
			text, err := extractPlainText(path, raw)
			if err != nil {
				return Result{}, err
			}
			return Result{Text: text, MimeType: mime}, nil
		}
	}

	text, err := extractOther(path, raw)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, MimeType: mime}, nil
}

// detectMIME prefers the extension map used by the dispatch table, then
// falls back to h2non/filetype content sniffing, then to a UTF-8 check.
func detectMIME(path string, raw []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := extensionMIME[ext]; ok {
		return mime
	}
	if kind, err := filetype.Match(raw); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if utf8.Valid(raw) {
		return "text/plain"
	}
	return "application/octet-stream"
}

func extractPlainText(path string, raw []byte) (string, error) {
	return toValidUTF8(raw), nil
}

// extractPDF returns the placeholder "[PDF: <name>]"; no PDF parser is
// wired into this module (spec.md §4.D allows the placeholder path when
// the extractor is absent), so no page text is extracted.
func extractPDF(path string, raw []byte) (string, error) {
	return fmt.Sprintf("[PDF: %s]", filepath.Base(path)), nil
}

// extractDOCX returns the placeholder "[DOCX: <name>]"; as with PDF, no
// docx parser is wired in, so no paragraph text is extracted, but the
// file is still catalogued.
func extractDOCX(path string, raw []byte) (string, error) {
	return fmt.Sprintf("[DOCX: %s]", filepath.Base(path)), nil
}

func extractOther(path string, raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	return fmt.Sprintf("[Binary: %s]", filepath.Base(path)), nil
}

// toValidUTF8 replaces invalid byte sequences with the Unicode
// replacement character rather than failing, per spec.md §4.D.
func toValidUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	var b bytes.Buffer
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		b.WriteRune(r)
		raw = raw[size:]
	}
	return b.String()
}
