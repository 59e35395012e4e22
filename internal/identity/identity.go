// Package identity defines the user and sender records the mail pipeline
// operates on, plus address validation shared by its stages.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"regexp"
	"strings"
)

// Mail format preferences stored on a user account.
const (
	FormatPlain = 0
	FormatHTML  = 1
)

// User is a recipient identity record. Suspended and AuthDisabled accounts
// are skipped silently; Deleted accounts are rejected outright.
type User struct {
	ID           int64
	Email        string
	FirstName    string
	LastName     string
	MailFormat   int    // FormatPlain or FormatHTML
	Charset      string // preferred charset, empty means site default
	Suspended    bool
	Deleted      bool
	AuthDisabled bool
	RemoteHost   int64 // non-zero when the account lives on a federated peer site
}

// FullName returns the display name composed from the name parts.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// PrefersHTML reports whether the user asked for HTML mail.
func (u *User) PrefersHTML() bool {
	return u.MailFormat == FormatHTML
}

// Sender identifies who a message is from: either a bare display name
// (system mail, User is nil) or a full account record.
type Sender struct {
	Name          string // display name for system senders
	User          *User
	Priority      int      // X-Priority value, 0 means unset
	CustomHeaders []string // raw "Name: value" header lines
	RevealAddress bool     // policy permits showing the real address to the recipient
}

// DisplayName returns the visible name before any template wrapping.
func (s Sender) DisplayName() string {
	if s.User != nil {
		return s.User.FullName()
	}
	return s.Name
}

var addressRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidAddress checks address syntax. The regex catches the common junk the
// gate cares about; net/mail rejects anything structurally unparseable.
func ValidAddress(addr string) bool {
	if addr == "" || !addressRe.MatchString(addr) {
		return false
	}
	_, err := mail.ParseAddress(addr)
	return err == nil
}

// Domain returns the part of an address after the last "@", lowercased.
func Domain(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(addr[i+1:])
}

// AddressHash returns the stable per-address token embedded in bounce
// processing envelope addresses. Inbound bounce handling recomputes it to
// verify that a bounce really belongs to the claimed recipient.
func AddressHash(addr string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(addr))))
	return hex.EncodeToString(sum[:])[:16]
}
