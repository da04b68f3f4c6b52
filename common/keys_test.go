package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report-2024_final.pdf", SanitizeFilename("report-2024_final.pdf"))
	assert.Equal(t, "a_b_c.pdf", SanitizeFilename("a b/c.pdf"))
	assert.Equal(t, "__invoice_.pdf", SanitizeFilename("é invoice#.pdf")[1:])
	assert.Equal(t, "", SanitizeFilename(""))
}

func TestConstructKey(t *testing.T) {
	bucket := "7"
	assert.Equal(t, "7/gxFiles/job-1/doc.pdf", ConstructKey("doc.pdf", &bucket, "job-1", KeyTypeGxFiles))
	assert.Equal(t, "7/files/job-1/doc.pdf", ConstructKey("doc.pdf", &bucket, "job-1", KeyTypeFiles))
	assert.Equal(t, "7/zip/job-1/batch.zip", ConstructKey("batch.zip", &bucket, "job-1", KeyTypeZip))
	assert.Equal(t, "7/source/job-1/doc.pdf", ConstructKey("doc.pdf", &bucket, "job-1", KeyTypeSource))
}

func TestConstructKeyBulkPrefix(t *testing.T) {
	assert.Equal(t, "bulk/zip/job-9/b.zip", ConstructKey("b.zip", nil, "job-9", KeyTypeZip))
	empty := ""
	assert.Equal(t, "bulk/zip/job-9/b.zip", ConstructKey("b.zip", &empty, "job-9", KeyTypeZip))
}

func TestConstructKeyInjectivePerType(t *testing.T) {
	bucket := "b1"
	seen := map[string]bool{}
	for _, kt := range []KeyType{KeyTypeZip, KeyTypeSource, KeyTypeFiles, KeyTypeGxFiles} {
		key := ConstructKey("doc.pdf", &bucket, "job-1", kt)
		assert.False(t, seen[key], "key collision for type %s", kt)
		seen[key] = true
	}
}

func TestConstructKeySanitizesName(t *testing.T) {
	bucket := "b1"
	assert.Equal(t, "b1/files/j/my_doc_1_.pdf", ConstructKey("my doc(1).pdf", &bucket, "j", KeyTypeFiles))
}
