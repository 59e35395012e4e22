package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/campora/courier/internal/compose"
)

// File is a development transport that writes each message to a directory
// as an .eml file instead of sending it.
type File struct {
	dir     string
	lastErr string
}

// NewFile creates the file transport. The directory is created on first use.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// LastError returns the error string of the most recent failed send.
func (t *File) LastError() string {
	return t.lastErr
}

// Send encodes the message and writes it to disk.
func (t *File) Send(ctx context.Context, msg *compose.Message) error {
	if err := ctx.Err(); err != nil {
		t.lastErr = err.Error()
		return err
	}

	raw, err := Encode(msg)
	if err != nil {
		t.lastErr = err.Error()
		return err
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		t.lastErr = err.Error()
		return fmt.Errorf("create mail directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.eml",
		time.Now().Format("2006_01_02_150405"),
		sanitizeFilename(msg.Subject))
	if err := os.WriteFile(filepath.Join(t.dir, name), raw, 0o644); err != nil {
		t.lastErr = err.Error()
		return fmt.Errorf("write mail file: %w", err)
	}
	t.lastErr = ""
	return nil
}

var unsafeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = unsafeFilenameRe.ReplaceAllString(s, "")
	const maxLength = 100
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	if s == "" {
		s = "message"
	}
	return strings.ToLower(s)
}
