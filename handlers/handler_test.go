package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docyard/docyard/common"
)

func TestRegistryLookup(t *testing.T) {
	cfg := common.DefaultConfig()
	r := NewRegistry(
		NewZipHandler(cfg),
		NewOfficeHandler(cfg, &fakeRunner{}),
		NewMsgHandler(cfg, &fakeRunner{}),
		NewPdfHandler(cfg, &fakeRunner{}, nil),
	)

	for _, ext := range []string{"zip", "docx", "XLSX", "msg", "pdf", "txt"} {
		h, err := r.Lookup(ext)
		require.NoError(t, err, "ext=%s", ext)
		require.NotNil(t, h, "ext=%s", ext)
	}

	_, err := r.Lookup("exe")
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
	assert.True(t, common.IsTerminal(err))

	assert.True(t, r.Supports("pdf"))
	assert.False(t, r.Supports("png"))
}

func TestSortItems(t *testing.T) {
	items := []ExtractedFileItem{{Name: "c"}, {Name: "a"}, {Name: "b"}}
	sortItems(items)
	assert.Equal(t, "a", items[0].Name)
	assert.Equal(t, "b", items[1].Name)
	assert.Equal(t, "c", items[2].Name)
}
