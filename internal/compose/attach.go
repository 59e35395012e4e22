package compose

import (
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
)

// errorAttachmentName is the declared filename of the generated placeholder
// that replaces an attachment rejected by the sandbox.
const errorAttachmentName = "error.txt"

// resolveAttachment validates an attachment path against the sandbox.
// Parent-traversal sequences are always replaced with a generated error
// placeholder. A path outside every allowed root is re-rooted under the data
// directory and validated again — long-standing compatibility behavior for
// callers that pass data-relative paths.
func (p *Pipeline) resolveAttachment(att *Attachment) (*ResolvedAttachment, error) {
	if att == nil || att.Path == "" {
		return nil, nil
	}

	name := att.Name
	if name == "" {
		name = filepath.Base(att.Path)
	}

	if strings.Contains(att.Path, "..") {
		slog.Warn("attachment path contains parent traversal, substituting placeholder", "path", att.Path)
		return p.errorAttachment(att.Path), nil
	}

	abs, err := filepath.Abs(att.Path)
	if err != nil {
		return p.errorAttachment(att.Path), nil
	}
	abs = resolveReal(abs)

	if !p.underAllowedRoot(abs) {
		// Compatibility fallback: treat the path as relative to the data
		// directory, then validate the joined result like any other path.
		abs = resolveReal(filepath.Join(p.cfg.Site.DataDir, att.Path))
		if !p.underAllowedRoot(abs) {
			slog.Warn("attachment path outside allowed roots, substituting placeholder", "path", att.Path)
			return p.errorAttachment(att.Path), nil
		}
	}

	// MIME type comes from the declared filename, not file content.
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &ResolvedAttachment{Path: abs, Name: name, MIMEType: mimeType}, nil
}

// resolveReal follows symlinks when the target exists; otherwise the cleaned
// absolute path stands.
func resolveReal(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return filepath.Clean(path)
}

func (p *Pipeline) underAllowedRoot(path string) bool {
	for _, root := range p.cfg.AllowedAttachmentRoots() {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// errorAttachment builds the fixed plaintext placeholder addressed to the
// support identity.
func (p *Pipeline) errorAttachment(path string) *ResolvedAttachment {
	body := fmt.Sprintf(
		"The original attachment could not be included in this message.\n"+
			"Requested path: %s\n"+
			"Please contact %s <%s> for assistance.\n",
		path, p.cfg.Site.SupportName, p.cfg.Site.SupportEmail)
	return &ResolvedAttachment{
		Name:     errorAttachmentName,
		MIMEType: "text/plain",
		Content:  []byte(body),
	}
}
