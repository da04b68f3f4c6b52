package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCappedBufferKeepsShortOutput(t *testing.T) {
	var b cappedBuffer
	n, err := b.Write([]byte("qpdf output"))
	assert.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "qpdf output", b.String())
}

func TestCappedBufferTruncates(t *testing.T) {
	var b cappedBuffer
	chunk := strings.Repeat("x", 100<<10)

	for i := 0; i < 4; i++ {
		n, err := b.Write([]byte(chunk))
		assert.NoError(t, err)
		assert.Equal(t, len(chunk), n, "writer must report full consumption")
	}

	out := b.String()
	assert.True(t, strings.HasSuffix(out, "[output truncated]"))
	assert.Len(t, out, maxCaptureBytes+len("\n[output truncated]"))
}

func TestCappedBufferTruncatesMidWrite(t *testing.T) {
	var b cappedBuffer
	n, err := b.Write([]byte(strings.Repeat("y", maxCaptureBytes+1)))
	assert.NoError(t, err)
	assert.Equal(t, maxCaptureBytes+1, n)
	assert.True(t, b.truncated)
	assert.Len(t, b.buf, maxCaptureBytes)
}
