// Package bounce watches the bounce mailbox and attributes delivery
// failures back to recipients via the envelope processing address.
package bounce

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomessage "github.com/emersion/go-message"
	gocharset "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/campora/courier/internal/config"
)

// Report holds the fields of one fetched bounce message.
type Report struct {
	Recipients []string // To addresses: DSNs come back to the envelope sender
	Subject    string
	Body       string
	UID        imap.UID
}

// Client abstracts bounce mailbox access for testability.
type Client interface {
	FetchUnseen() ([]*Report, error)
	MarkSeen(uid imap.UID) error
	Close() error
}

// imapClient is the real implementation using emersion/go-imap v2.
type imapClient struct {
	client *imapclient.Client
}

func dial(cfg config.IMAPConfig) (Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	if err := c.Login(cfg.User, cfg.Password).Wait(); err != nil {
		c.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(cfg.Mailbox, nil).Wait(); err != nil {
		c.Close()
		return nil, fmt.Errorf("imap select %s: %w", cfg.Mailbox, err)
	}
	return &imapClient{client: c}, nil
}

func (ic *imapClient) FetchUnseen() ([]*Report, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := ic.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(searchData.AllUIDs()) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSetNum(searchData.AllUIDs()...)
	fetchOptions := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierNone},
		},
	}

	buffers, err := ic.client.Fetch(uidSet, fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	var reports []*Report
	for _, buf := range buffers {
		reports = append(reports, bufferToReport(buf))
	}
	return reports, nil
}

func (ic *imapClient) MarkSeen(uid imap.UID) error {
	uidSet := imap.UIDSetNum(uid)
	storeFlags := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}
	return ic.client.Store(uidSet, storeFlags, nil).Close()
}

func (ic *imapClient) Close() error {
	return ic.client.Close()
}

func bufferToReport(buf *imapclient.FetchMessageBuffer) *Report {
	report := &Report{UID: buf.UID}

	if env := buf.Envelope; env != nil {
		report.Subject = env.Subject
		for _, to := range env.To {
			report.Recipients = append(report.Recipients, to.Addr())
		}
	}

	bodySection := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierNone}
	if data := buf.FindBodySection(bodySection); data != nil {
		report.Body = parseReportBody(bytes.NewReader(data))
	}

	return report
}

// parseReportBody collects the readable text of a DSN: inline parts plus
// the machine-readable delivery-status part, which carries the failed
// recipient when the To header does not.
func init() {
	// Bounce reports arrive in whatever charset the remote MTA chose.
	gomessage.CharsetReader = gocharset.Reader
}

func parseReportBody(r io.Reader) string {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return ""
	}
	defer mr.Close()

	var body bytes.Buffer
	for {
		p, err := mr.NextPart()
		if err != nil {
			break
		}
		switch p.Header.(type) {
		case *mail.InlineHeader:
			_, _ = io.Copy(&body, p.Body)
			body.WriteByte('\n')
		case *mail.AttachmentHeader:
			t, _, _ := p.Header.(*mail.AttachmentHeader).ContentType()
			if t == "message/delivery-status" || t == "message/rfc822" {
				_, _ = io.Copy(&body, p.Body)
				body.WriteByte('\n')
			}
		}
	}
	return body.String()
}
