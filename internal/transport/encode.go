// Package transport delivers composed messages: an SMTP client for real
// sending and a file transport for development.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-textwrapper"

	"github.com/campora/courier/internal/compose"
)

// Encode serializes a composed message into RFC 5322 wire format. HTML
// messages become multipart/alternative with the plaintext as alt body;
// attachments wrap everything in multipart/mixed.
func Encode(msg *compose.Message) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Name: msg.From.Name, Address: msg.From.Email}})
	h.SetAddressList("To", toAddressList(msg.Recipients))
	if len(msg.ReplyTo) > 0 {
		h.SetAddressList("Reply-To", toAddressList(msg.ReplyTo))
	}
	if msg.MessageID != "" {
		h.Set("Message-Id", msg.MessageID)
	}
	if msg.Priority != 0 {
		h.Set("X-Priority", strconv.Itoa(msg.Priority))
	}
	for _, raw := range msg.CustomHeaders {
		k, v, ok := strings.Cut(raw, ":")
		if !ok {
			continue
		}
		h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}

	charsetParams := map[string]string{"charset": charsetName(msg.Charset)}
	plain := wrapText(msg.BodyPlain, msg.WordWrap)

	// Simple case: plaintext, no attachment.
	if !msg.IsHTML && msg.Attachment == nil {
		h.SetContentType("text/plain", charsetParams)
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("create message writer: %w", err)
		}
		if _, err := io.WriteString(w, plain); err != nil {
			return nil, fmt.Errorf("write body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close message writer: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", charsetParams)
	if msg.TransferEncoding != "" {
		th.Set("Content-Transfer-Encoding", msg.TransferEncoding)
	}
	pw, err := iw.CreatePart(th)
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := io.WriteString(pw, plain); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}
	_ = pw.Close()

	if msg.IsHTML {
		var hh mail.InlineHeader
		hh.SetContentType("text/html", charsetParams)
		if msg.TransferEncoding != "" {
			hh.Set("Content-Transfer-Encoding", msg.TransferEncoding)
		}
		pw, err := iw.CreatePart(hh)
		if err != nil {
			return nil, fmt.Errorf("create html part: %w", err)
		}
		if _, err := io.WriteString(pw, msg.BodyHTML); err != nil {
			return nil, fmt.Errorf("write html part: %w", err)
		}
		_ = pw.Close()
	}
	_ = iw.Close()

	if att := msg.Attachment; att != nil {
		if err := writeAttachment(mw, att); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeAttachment(mw *mail.Writer, att *compose.ResolvedAttachment) error {
	var ah mail.AttachmentHeader
	ah.SetFilename(att.Name)
	ah.SetContentType(att.MIMEType, nil)

	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	defer aw.Close()

	if att.Content != nil {
		_, err = aw.Write(att.Content)
		if err != nil {
			return fmt.Errorf("write attachment: %w", err)
		}
		return nil
	}

	f, err := os.Open(att.Path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(aw, f); err != nil {
		return fmt.Errorf("write attachment: %w", err)
	}
	return nil
}

func toAddressList(addrs []compose.Address) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Name: a.Name, Address: a.Email})
	}
	return out
}

func charsetName(name string) string {
	if name == "" {
		return "utf-8"
	}
	return strings.ToLower(name)
}

// wrapText word-wraps a plaintext body at the requested width.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	var b bytes.Buffer
	w := textwrapper.New(&b, "\r\n", width)
	if _, err := io.WriteString(w, s); err != nil {
		return s
	}
	return b.String()
}
