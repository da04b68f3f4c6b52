package common

import "strings"

// KeyType selects the namespace segment of an object key.
type KeyType string

const (
	KeyTypeZip     KeyType = "zip"
	KeyTypeSource  KeyType = "source"
	KeyTypeFiles   KeyType = "files"
	KeyTypeGxFiles KeyType = "gxFiles"
)

// SanitizeFilename replaces every byte outside [A-Za-z0-9._-] with '_'.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ConstructKey builds the deterministic object key for a file:
// "{bucket}/{type}/{jobId}/{safeName}", with prefix "bulk" when the job has
// no GX bucket. Every type keeps its own segment so the mapping stays
// injective per (fileName, bucket, jobId, type).
func ConstructKey(fileName string, gxBucketID *string, jobID string, keyType KeyType) string {
	prefix := "bulk"
	if gxBucketID != nil && *gxBucketID != "" {
		prefix = *gxBucketID
	}
	segment := string(keyType)
	return prefix + "/" + segment + "/" + jobID + "/" + SanitizeFilename(fileName)
}
