package handlers

import (
	"context"
	"encoding/binary"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/richardlehane/mscfb"
	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/runner"
)

// MAPI property streams inside the compound file. The first eight hex digits
// are the property id, the last four the type (001F UTF-16, 001E ANSI,
// 0102 binary).
const (
	propSubject        = "0037"
	propSenderName     = "0C1A"
	propDisplayTo      = "0E04"
	propBodyPlain      = "1000"
	propBodyHTML       = "1013"
	propAttachData     = "3701"
	propAttachShort    = "3704"
	propAttachLong     = "3707"
	attachStoragePfx   = "__attach_version1.0_"
	substgStreamPrefix = "__substg1.0_"
)

// MsgHandler parses Outlook MSG emails: every attachment becomes a child
// item with its original bytes and name, and a non-empty message body is
// rendered to an "Email_Body_{uuid}.pdf" through the HTML-to-PDF converter.
type MsgHandler struct {
	run           runner.Runner
	wkhtmltopdf   string
	renderTimeout time.Duration
	fontFile      string
	tempDir       string
}

func NewMsgHandler(cfg *common.Config, run runner.Runner) *MsgHandler {
	return &MsgHandler{
		run:           run,
		wkhtmltopdf:   cfg.MsgHandler.WkhtmltopdfBinary,
		renderTimeout: time.Duration(cfg.MsgHandler.RenderTimeoutSecs) * time.Second,
		fontFile:      cfg.MsgHandler.BodyFontFile,
		tempDir:       cfg.ZipHandler.TempDir,
	}
}

func (h *MsgHandler) Supports(ext string) bool { return ext == "msg" }

type msgAttachment struct {
	longName  string
	shortName string
	data      []byte
}

type msgContent struct {
	subject     string
	senderName  string
	displayTo   string
	bodyPlain   string
	bodyHTML    string
	attachments map[string]*msgAttachment // keyed by storage name
}

func (h *MsgHandler) Handle(ctx context.Context, src io.ReaderAt, size int64, fm *common.FileMaster) ([]ExtractedFileItem, error) {
	doc, err := mscfb.New(io.NewSectionReader(src, 0, size))
	if err != nil {
		return nil, common.NewMalformedContentError("invalid MSG compound file", err)
	}

	content := &msgContent{attachments: map[string]*msgAttachment{}}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if !strings.HasPrefix(entry.Name, substgStreamPrefix) {
			continue
		}
		tag := strings.TrimPrefix(entry.Name, substgStreamPrefix)
		if len(tag) < 8 {
			continue
		}
		prop, typ := tag[:4], tag[4:8]
		data := make([]byte, entry.Size)
		if n, err := io.ReadFull(entry, data); err != nil && err != io.ErrUnexpectedEOF {
			return nil, common.NewMalformedContentError("unreadable MSG stream "+entry.Name, err)
		} else {
			data = data[:n]
		}

		if att := attachmentKey(entry.Path); att != "" {
			a := content.attachments[att]
			if a == nil {
				a = &msgAttachment{}
				content.attachments[att] = a
			}
			switch prop {
			case propAttachData:
				a.data = data
			case propAttachLong:
				a.longName = decodeString(data, typ)
			case propAttachShort:
				a.shortName = decodeString(data, typ)
			}
			continue
		}
		if len(entry.Path) > 0 {
			continue // recipient/embedded-message storages are not extracted
		}
		switch prop {
		case propSubject:
			content.subject = decodeString(data, typ)
		case propSenderName:
			content.senderName = decodeString(data, typ)
		case propDisplayTo:
			content.displayTo = decodeString(data, typ)
		case propBodyPlain:
			content.bodyPlain = decodeString(data, typ)
		case propBodyHTML:
			if typ == "0102" {
				content.bodyHTML = string(data)
			} else {
				content.bodyHTML = decodeString(data, typ)
			}
		}
	}

	var items []ExtractedFileItem
	for key, att := range content.attachments {
		if len(att.data) == 0 {
			continue
		}
		name := att.longName
		if name == "" {
			name = att.shortName
		}
		if name == "" {
			name = key
		}
		items = append(items, ExtractedFileItem{Name: name, Bytes: att.data})
	}
	sortItems(items)

	if body := h.composeBody(content); body != "" {
		pdf, err := h.renderBody(ctx, body)
		if err != nil {
			return nil, err
		}
		items = append(items, ExtractedFileItem{
			Name:  fmt.Sprintf("Email_Body_%s.pdf", uuid.NewString()),
			Bytes: pdf,
		})
	}
	return items, nil
}

// composeBody builds the HTML document for the body PDF: a small header with
// subject/from/to, then the HTML body when present, else the plain text in a
// <pre>. Returns "" when the message has no body at all.
func (h *MsgHandler) composeBody(c *msgContent) string {
	bodyHTML := strings.TrimSpace(c.bodyHTML)
	bodyPlain := strings.TrimSpace(c.bodyPlain)
	if bodyHTML == "" && bodyPlain == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\">")
	if h.fontFile != "" {
		if _, err := os.Stat(h.fontFile); err != nil {
			// Missing font must not fail the job; the renderer falls back to
			// its default face.
			log.WithField("font", h.fontFile).Warn("body font file missing; using default font")
		} else {
			fmt.Fprintf(&b,
				"<style>@font-face{font-family:body;src:url('%s');}body{font-family:body;}</style>",
				h.fontFile)
		}
	}
	b.WriteString("</head><body>")
	fmt.Fprintf(&b, "<p><b>Subject:</b> %s<br><b>From:</b> %s<br><b>To:</b> %s</p><hr>",
		html.EscapeString(c.subject), html.EscapeString(c.senderName), html.EscapeString(c.displayTo))
	if bodyHTML != "" {
		b.WriteString(sanitizeHTML(bodyHTML))
	} else {
		b.WriteString("<pre>")
		b.WriteString(html.EscapeString(bodyPlain))
		b.WriteString("</pre>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

// sanitizeHTML strips script blocks from an email HTML body before it is
// handed to the renderer.
func sanitizeHTML(in string) string {
	lower := strings.ToLower(in)
	var b strings.Builder
	for {
		start := strings.Index(lower, "<script")
		if start < 0 {
			b.WriteString(in)
			return b.String()
		}
		end := strings.Index(lower[start:], "</script>")
		b.WriteString(in[:start])
		if end < 0 {
			return b.String()
		}
		cut := start + end + len("</script>")
		in = in[cut:]
		lower = lower[cut:]
	}
}

func (h *MsgHandler) renderBody(ctx context.Context, htmlBody string) ([]byte, error) {
	workDir, err := os.MkdirTemp(h.tempDir, "msgbody-*")
	if err != nil {
		return nil, common.NewTransientIOError("creating render dir", err)
	}
	defer os.RemoveAll(workDir)

	htmlPath := filepath.Join(workDir, "body.html")
	pdfPath := filepath.Join(workDir, "body.pdf")
	if err := os.WriteFile(htmlPath, []byte(htmlBody), 0o600); err != nil {
		return nil, common.NewTransientIOError("writing body html", err)
	}

	res, err := h.run.Run(ctx, "msg-body-render",
		h.wkhtmltopdf, []string{"--quiet", htmlPath, pdfPath}, h.renderTimeout)
	if err != nil {
		return nil, common.NewTransientExternalError("rendering email body", err)
	}
	if res.ExitCode != 0 {
		return nil, common.NewTransientExternalError("body render exited: "+res.Stderr, nil)
	}
	pdf, err := os.ReadFile(pdfPath)
	if err != nil || len(pdf) == 0 {
		return nil, common.NewTransientExternalError("body render produced no output", err)
	}
	return pdf, nil
}

// attachmentKey returns the attachment storage name when path points inside
// one, else "".
func attachmentKey(path []string) string {
	for _, p := range path {
		if strings.HasPrefix(p, attachStoragePfx) {
			return p
		}
	}
	return ""
}

// decodeString decodes a MAPI string property: 001F is UTF-16LE, anything
// else is treated as single-byte text.
func decodeString(data []byte, typ string) string {
	if typ == "001F" {
		u := make([]uint16, 0, len(data)/2)
		for i := 0; i+1 < len(data); i += 2 {
			u = append(u, binary.LittleEndian.Uint16(data[i:]))
		}
		return strings.TrimRight(string(utf16.Decode(u)), "\x00")
	}
	return strings.TrimRight(string(data), "\x00")
}
