package handlers

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docyard/docyard/common"
)

func encodeUTF16LE(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func TestDecodeString(t *testing.T) {
	assert.Equal(t, "Invoice Q3", decodeString(encodeUTF16LE("Invoice Q3"), "001F"))
	assert.Equal(t, "plain", decodeString([]byte("plain\x00"), "001E"))
	assert.Equal(t, "trimmed", decodeString(append(encodeUTF16LE("trimmed"), 0, 0), "001F"))
	assert.Equal(t, "", decodeString(nil, "001F"))
}

func TestAttachmentKey(t *testing.T) {
	assert.Equal(t, "__attach_version1.0_#00000000",
		attachmentKey([]string{"__attach_version1.0_#00000000"}))
	assert.Equal(t, "__attach_version1.0_#00000001",
		attachmentKey([]string{"__attach_version1.0_#00000001", "__substg1.0_3701000D"}))
	assert.Equal(t, "", attachmentKey([]string{"__recip_version1.0_#00000000"}))
	assert.Equal(t, "", attachmentKey(nil))
}

func TestSanitizeHTML(t *testing.T) {
	assert.Equal(t, "<p>hi</p>", sanitizeHTML("<p>hi</p>"))
	assert.Equal(t, "<p>a</p><p>b</p>",
		sanitizeHTML("<p>a</p><script>alert(1)</script><p>b</p>"))
	assert.Equal(t, "<p>a</p>",
		sanitizeHTML("<p>a</p><SCRIPT src='x'>boom"))
	assert.Equal(t, "before after",
		sanitizeHTML("before <script>one</script><script>two</script>after"))
}

func TestComposeBody(t *testing.T) {
	h := &MsgHandler{}

	assert.Empty(t, h.composeBody(&msgContent{}), "no body means no rendition")
	assert.Empty(t, h.composeBody(&msgContent{bodyPlain: "  \n "}))

	html := h.composeBody(&msgContent{
		subject:    "Q3 <figures>",
		senderName: "Finance",
		displayTo:  "Board",
		bodyPlain:  "see attached <file>",
	})
	assert.Contains(t, html, "Q3 &lt;figures&gt;")
	assert.Contains(t, html, "<pre>see attached &lt;file&gt;</pre>")
	assert.Contains(t, html, "<b>From:</b> Finance")

	withHTML := h.composeBody(&msgContent{bodyHTML: "<p>rich</p>", bodyPlain: "plain"})
	assert.Contains(t, withHTML, "<p>rich</p>")
	assert.NotContains(t, withHTML, "<pre>")
}

func TestMsgHandlerSupports(t *testing.T) {
	h := NewMsgHandler(common.DefaultConfig(), &fakeRunner{})
	assert.True(t, h.Supports("msg"))
	assert.False(t, h.Supports("eml"))
}

func TestMsgHandlerRejectsGarbage(t *testing.T) {
	h := NewMsgHandler(common.DefaultConfig(), &fakeRunner{})
	data := []byte("not an ole compound file")
	_, err := h.Handle(context.Background(), bytes.NewReader(data), int64(len(data)), &common.FileMaster{FileName: "m.msg"})
	assert.Error(t, err)
	assert.Equal(t, common.KindMalformedContent, common.KindOf(err))
}
