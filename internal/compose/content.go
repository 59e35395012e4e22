package compose

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		highlighting.NewHighlighting(
			highlighting.WithStyle("github"),
		),
	),
)

// textToHTML derives an HTML body from a plaintext one for recipients who
// prefer HTML mail. The conversion escapes markup in the source text, so a
// plaintext body never injects tags into the HTML part. Markdown syntax in
// the source is rendered, not preserved verbatim: *emphasis* becomes <em>,
// fenced code blocks get highlighted. Callers that need the plaintext
// reproduced exactly supply their own HTML body instead.
func textToHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("markdown conversion failed: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
