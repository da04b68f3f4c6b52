package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docyard/docyard/common"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zipHandlerForTest() *ZipHandler {
	cfg := common.DefaultConfig()
	return NewZipHandler(cfg)
}

func TestZipHandlerExtractsEntries(t *testing.T) {
	raw := buildZip(t, map[string]string{
		"b.pdf":        "pdf-bytes",
		"a.docx":       "docx-bytes",
		"nested/c.pdf": "nested-bytes",
	})
	h := zipHandlerForTest()
	fm := &common.FileMaster{FileName: "inner.zip"}

	items, err := h.Handle(context.Background(), bytes.NewReader(raw), int64(len(raw)), fm)
	require.NoError(t, err)
	require.Len(t, items, 3)
	// Deterministic order, paths flattened to base names.
	assert.Equal(t, "a.docx", items[0].Name)
	assert.Equal(t, "b.pdf", items[1].Name)
	assert.Equal(t, "c.pdf", items[2].Name)
	assert.Equal(t, []byte("nested-bytes"), items[2].Bytes)
}

func TestZipHandlerSkipsInvalidEntries(t *testing.T) {
	raw := buildZip(t, map[string]string{
		"ok.pdf":        "fine",
		"../evil.pdf":   "traversal",
		".hidden.pdf":   "dotfile",
		"dir/":          "",
		"sub/.DS_Store": "noise",
	})
	h := zipHandlerForTest()
	items, err := h.Handle(context.Background(), bytes.NewReader(raw), int64(len(raw)), &common.FileMaster{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ok.pdf", items[0].Name)
}

func TestZipHandlerMalformedArchive(t *testing.T) {
	raw := []byte("definitely not a zip file")
	h := zipHandlerForTest()
	_, err := h.Handle(context.Background(), bytes.NewReader(raw), int64(len(raw)), &common.FileMaster{})
	require.Error(t, err)
	assert.Equal(t, common.KindMalformedContent, common.KindOf(err))
	assert.True(t, common.IsTerminal(err))
}

func TestZipHandlerEntryLimit(t *testing.T) {
	raw := buildZip(t, map[string]string{"a.pdf": "1", "b.pdf": "2", "c.pdf": "3"})
	cfg := common.DefaultConfig()
	cfg.ZipHandler.MaxEntries = 2
	h := NewZipHandler(cfg)
	_, err := h.Handle(context.Background(), bytes.NewReader(raw), int64(len(raw)), &common.FileMaster{})
	require.Error(t, err)
	assert.Equal(t, common.KindMalformedContent, common.KindOf(err))
}

func TestZipHandlerSupports(t *testing.T) {
	h := zipHandlerForTest()
	assert.True(t, h.Supports("zip"))
	assert.False(t, h.Supports("pdf"))
}

func TestValidateEntryName(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"doc.pdf", "doc.pdf", false},
		{"folder/doc.pdf", "doc.pdf", false},
		{`win\style\doc.pdf`, "doc.pdf", false},
		{"a/b/../c.pdf", "c.pdf", false},
		{"../escape.pdf", "", true},
		{"/abs/path.pdf", "", true},
		{".hidden", "", true},
		{"dir/.hidden", "", true},
		{"", "", true},
		{".", "", true},
	}
	for _, tc := range cases {
		got, err := ValidateEntryName(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "in=%q", tc.in)
			continue
		}
		require.NoError(t, err, "in=%q", tc.in)
		assert.Equal(t, tc.want, got, "in=%q", tc.in)
	}
}
