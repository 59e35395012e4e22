// Package compose implements the outbound mail pipeline: validity gate,
// diversion filter, correspondent resolution, content rendering, header and
// metadata assembly, and dispatch to a transport.
package compose

import (
	"github.com/campora/courier/internal/identity"
)

// Address is an email address with an optional display name.
type Address struct {
	Email string
	Name  string
}

// Attachment is the caller-supplied attachment reference: a path (or handle)
// and the filename to declare on the message.
type Attachment struct {
	Path string
	Name string
}

// ResolvedAttachment is the sandbox-validated attachment written into the
// outgoing message. Content is set instead of Path for generated
// placeholders.
type ResolvedAttachment struct {
	Path     string
	Name     string
	MIMEType string
	Content  []byte
}

// Signing is DKIM metadata passed to the transport.
type Signing struct {
	Domain   string
	Selector string
	KeyPath  string
	Identity string
}

// Request describes one "send this message to this user" call. It is built
// once, consumed exactly once by Dispatch, and discarded.
type Request struct {
	Recipient *identity.User
	Sender    identity.Sender
	Subject   string
	BodyText  string
	BodyHTML  string // optional pre-rendered HTML

	Attachment *Attachment
	ReplyTo    *Address // optional override
	MessageID  string   // optional caller-supplied id, kept verbatim
	Origin     string   // call-site tag written into the provenance header

	WordWrap       int
	UseTrueAddress bool
}

// NewRequest returns a Request with the documented defaults: 79-column word
// wrap and true-sender-address display enabled.
func NewRequest(recipient *identity.User, sender identity.Sender, subject, bodyText string) *Request {
	return &Request{
		Recipient:      recipient,
		Sender:         sender,
		Subject:        subject,
		BodyText:       bodyText,
		WordWrap:       79,
		UseTrueAddress: true,
	}
}

// Message is the fully composed outbound message handed to the transport.
type Message struct {
	From         Address
	EnvelopeFrom string // bounce-handling address, may differ from From
	Recipients   []Address
	ReplyTo      []Address

	Subject   string
	MessageID string

	BodyPlain        string
	BodyHTML         string
	IsHTML           bool
	TransferEncoding string

	WordWrap      int
	Priority      int
	CustomHeaders []string
	Charset       string

	Signing    *Signing
	Attachment *ResolvedAttachment
}
