package transport

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"os"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/campora/courier/internal/compose"
)

// maybeSign DKIM-signs the raw message when signing metadata is attached.
// Signing failure is logged and the message goes out unsigned, matching the
// non-fatal treatment of a missing key during composition.
func maybeSign(raw []byte, s *compose.Signing) []byte {
	if s == nil {
		return raw
	}
	signed, err := sign(raw, s)
	if err != nil {
		slog.Warn("dkim signing failed, sending unsigned", "domain", s.Domain, "error", err)
		return raw
	}
	return signed
}

func sign(raw []byte, s *compose.Signing) ([]byte, error) {
	signer, err := loadKey(s.KeyPath)
	if err != nil {
		return nil, err
	}

	opts := &dkim.SignOptions{
		Domain:   s.Domain,
		Selector: s.Selector,
		Signer:   signer,
		HeaderKeys: []string{
			"From", "To", "Subject", "Date", "Message-Id",
		},
	}

	var out bytes.Buffer
	if err := dkim.Sign(&out, bytes.NewReader(raw), opts); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func loadKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in dkim key file")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, errors.New("dkim key does not support signing")
	}
	return signer, nil
}
