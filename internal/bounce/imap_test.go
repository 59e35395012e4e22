package bounce

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func dsnMessage(finalRecipient string) string {
	lines := []string{
		"From: MAILER-DAEMON@relay.example",
		"To: " + finalRecipient,
		"Subject: Undelivered Mail Returned to Sender",
		`Content-Type: multipart/report; report-type=delivery-status; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain",
		"",
		"This is the mail system at host relay.example.",
		"",
		"--b1",
		"Content-Type: message/delivery-status",
		"Content-Disposition: attachment",
		"",
		"Final-Recipient: rfc822; " + finalRecipient,
		"Action: failed",
		"",
		"--b1--",
		"",
	}
	return strings.Join(lines, "\r\n")
}

func TestParseReportBody(t *testing.T) {
	addr := "bounce+5+0123456789abcdef@campora.example"
	body := parseReportBody(strings.NewReader(dsnMessage(addr)))

	assert.Contains(t, body, "This is the mail system")
	assert.Contains(t, body, "Final-Recipient: rfc822; "+addr)
	assert.Contains(t, body, "Action: failed")
}

func TestParseReportBodyGarbage(t *testing.T) {
	assert.Empty(t, parseReportBody(strings.NewReader("not a mime message")))
}
