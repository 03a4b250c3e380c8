package fsscan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScan_EmitsRecordsForRegularFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc1.txt"), []byte("Alpha bravo charlie."), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "doc2.txt"), []byte("Delta echo foxtrot."), 0o644))

	records, err := Scan(root, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byPath := map[string]Record{}
	for _, r := range records {
		byPath[r.RelativePath] = r
	}
	require.Contains(t, byPath, "doc1.txt")
	require.Contains(t, byPath, "sub/doc2.txt")
	require.NotEmpty(t, byPath["doc1.txt"].ContentHash)
}

func TestScan_SkipsHiddenFilesAndDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("secret"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "config"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0o644))

	records, err := Scan(root, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "visible.txt", records[0].RelativePath)
}

func TestScan_SameContentSameHash(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("same"), 0o644))

	records, err := Scan(root, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, records[0].ContentHash, records[1].ContentHash)
}

func TestScan_RootUnreadable(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	require.ErrorIs(t, err, ErrRootUnreadable)
}
