package extract_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragserver/internal/extract"
)

func TestExtract_PlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc1.txt")
	require.NoError(t, os.WriteFile(path, []byte("Alpha bravo charlie."), 0o644))

	res, err := extract.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "Alpha bravo charlie.", res.Text)
	assert.Equal(t, "text/plain", res.MimeType)
}

func TestExtract_EmptyFileReturnsEmptyString(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	res, err := extract.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
}

func TestExtract_UnknownBinaryEmitsPlaceholder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x01, 0x80}, 0o644))

	res, err := extract.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "[Binary: blob.bin]", res.Text)
	assert.Equal(t, "application/octet-stream", res.MimeType)
}

func TestExtract_PDFPlaceholder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))

	res, err := extract.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "[PDF: report.pdf]", res.Text)
	assert.Equal(t, "application/pdf", res.MimeType)
}

func TestExtract_ReadFailureReturnsError(t *testing.T) {
	_, err := extract.Extract(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
