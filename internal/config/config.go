// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Via policy values control whether a sender display name is wrapped in the
// "via <site>" template. Default wraps only when the real address is hidden.
const (
	ViaAlways  = "always"
	ViaNever   = "never"
	ViaDefault = "default"
)

// Config is the full courier configuration.
type Config struct {
	Site    SiteConfig    `toml:"site"`
	Mail    MailConfig    `toml:"mail"`
	SMTP    SMTPConfig    `toml:"smtp"`
	IMAP    IMAPConfig    `toml:"imap"`
	Sandbox SandboxConfig `toml:"sandbox"`
}

// SiteConfig describes the site the mail originates from.
type SiteConfig struct {
	Name         string `toml:"name"`
	RootURL      string `toml:"root_url"`
	Hostname     string `toml:"hostname"`
	SupportEmail string `toml:"support_email"`
	SupportName  string `toml:"support_name"`
	DataDir      string `toml:"data_dir"`
}

// MailConfig holds outbound mail policy.
type MailConfig struct {
	NoReply          string   `toml:"noreply_address"`
	SubjectPrefix    string   `toml:"subject_prefix"`
	BounceHandling   bool     `toml:"bounce_handling"`
	BouncePrefix     string   `toml:"bounce_prefix"`
	BounceThreshold  int      `toml:"bounce_threshold"`
	CustomHeaders    string   `toml:"custom_headers"` // newline-delimited raw header lines
	ViaPolicy        string   `toml:"via_policy"`     // always | never | default
	DivertAddress    string   `toml:"divert_address"`
	DivertExceptions []string `toml:"divert_exceptions"` // substrings exempt from diversion
	SiteCharset      string   `toml:"site_charset"`      // empty means UTF-8 passthrough
	WordWrap         int      `toml:"word_wrap"`
	NeverSend        bool     `toml:"never_send"` // global kill switch
	FakeSend         bool     `toml:"fake_send"`  // test harness short-circuit
	DKIMSelector     string   `toml:"dkim_selector"`
	DKIMKeyDir       string   `toml:"dkim_key_dir"`
}

// SMTPConfig holds outbound transport settings.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	TLSMode  string `toml:"tls_mode"` // plain | starttls | tls
}

// IMAPConfig holds bounce mailbox settings.
type IMAPConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	Mailbox         string `toml:"mailbox"`
	PollIntervalSec int    `toml:"poll_interval_sec"`
}

// SandboxConfig lists the base directories attachments may be served from.
// The site data directory is always allowed.
type SandboxConfig struct {
	CacheDir      string   `toml:"cache_dir"`
	LocalCacheDir string   `toml:"local_cache_dir"`
	TempDir       string   `toml:"temp_dir"`
	ScratchDir    string   `toml:"scratch_dir"`
	SiteRootDir   string   `toml:"site_root_dir"`
	ExtraRoots    []string `toml:"extra_roots"`
}

// Load reads the config from the default directory.
func Load() (*Config, error) {
	return LoadFrom(ConfigDir())
}

// LoadFrom reads config.toml from configDir, applies defaults and env
// overrides, and validates the result.
func LoadFrom(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "config.toml")

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ConfigDir returns the default configuration directory (~/.courier).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".courier")
}

func applyDefaults(cfg *Config) {
	if cfg.Mail.BouncePrefix == "" {
		cfg.Mail.BouncePrefix = "bounce"
	}
	if cfg.Mail.BounceThreshold == 0 {
		cfg.Mail.BounceThreshold = 10
	}
	if cfg.Mail.ViaPolicy == "" {
		cfg.Mail.ViaPolicy = ViaDefault
	}
	if cfg.Mail.WordWrap == 0 {
		cfg.Mail.WordWrap = 79
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.SMTP.TLSMode == "" {
		cfg.SMTP.TLSMode = "starttls"
	}
	if cfg.IMAP.Port == 0 {
		cfg.IMAP.Port = 993
	}
	if cfg.IMAP.Mailbox == "" {
		cfg.IMAP.Mailbox = "INBOX"
	}
	if cfg.IMAP.PollIntervalSec == 0 {
		cfg.IMAP.PollIntervalSec = 60
	}
}

func applyEnvOverrides(cfg *Config) {
	envStr("COURIER_DATA_DIR", &cfg.Site.DataDir)
	envStr("COURIER_HOSTNAME", &cfg.Site.Hostname)
	envStr("COURIER_NOREPLY_ADDRESS", &cfg.Mail.NoReply)
	envStr("COURIER_DIVERT_ADDRESS", &cfg.Mail.DivertAddress)
	envBool("COURIER_NEVER_SEND", &cfg.Mail.NeverSend)
	envBool("COURIER_FAKE_SEND", &cfg.Mail.FakeSend)
	envStr("COURIER_SMTP_HOST", &cfg.SMTP.Host)
	envInt("COURIER_SMTP_PORT", &cfg.SMTP.Port)
	envStr("COURIER_SMTP_USER", &cfg.SMTP.User)
	envStr("COURIER_SMTP_PASSWORD", &cfg.SMTP.Password)
	envStr("COURIER_IMAP_HOST", &cfg.IMAP.Host)
	envInt("COURIER_IMAP_PORT", &cfg.IMAP.Port)
	envStr("COURIER_IMAP_USER", &cfg.IMAP.User)
	envStr("COURIER_IMAP_PASSWORD", &cfg.IMAP.Password)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Site.Name == "" {
		return errors.New("site.name is required")
	}
	if cfg.Site.RootURL == "" {
		return errors.New("site.root_url is required")
	}
	if cfg.Site.Hostname == "" && cfg.Mail.NoReply == "" {
		return errors.New("one of site.hostname or mail.noreply_address is required")
	}
	if cfg.Site.DataDir == "" {
		return errors.New("site.data_dir is required")
	}
	switch cfg.Mail.ViaPolicy {
	case ViaAlways, ViaNever, ViaDefault:
	default:
		return fmt.Errorf("mail.via_policy must be always, never, or default (got %q)", cfg.Mail.ViaPolicy)
	}
	switch cfg.SMTP.TLSMode {
	case "plain", "starttls", "tls":
	default:
		return fmt.Errorf("smtp.tls_mode must be plain, starttls, or tls (got %q)", cfg.SMTP.TLSMode)
	}
	return nil
}

// NoReplyAddress returns the configured no-reply address, deriving
// noreply@<hostname> when it is unset or obviously broken.
func (c *Config) NoReplyAddress() string {
	addr := strings.TrimSpace(c.Mail.NoReply)
	if addr != "" && strings.Contains(addr, "@") {
		return addr
	}
	return "noreply@" + c.Site.Hostname
}

// MailDomain returns the domain outgoing envelope addresses live under.
func (c *Config) MailDomain() string {
	addr := c.NoReplyAddress()
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return c.Site.Hostname
}

// SiteHeaders returns the site-wide custom header lines, one per entry.
func (c *Config) SiteHeaders() []string {
	var headers []string
	for _, line := range strings.Split(c.Mail.CustomHeaders, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			headers = append(headers, line)
		}
	}
	return headers
}

// AllowedAttachmentRoots returns the directories attachments may resolve
// into. The data directory is always first so the sandbox fallback lands in
// an allowed root.
func (c *Config) AllowedAttachmentRoots() []string {
	roots := []string{
		c.Site.DataDir,
		c.Sandbox.CacheDir,
		c.Sandbox.LocalCacheDir,
		c.Sandbox.TempDir,
		c.Sandbox.ScratchDir,
		c.Sandbox.SiteRootDir,
	}
	roots = append(roots, c.Sandbox.ExtraRoots...)

	out := roots[:0]
	for _, r := range roots {
		if r != "" {
			out = append(out, filepath.Clean(r))
		}
	}
	return out
}

// DKIMKeyPath returns where the private key for a signing domain must live.
func (c *Config) DKIMKeyPath(domain string) string {
	return filepath.Join(c.Mail.DKIMKeyDir, domain+"."+c.Mail.DKIMSelector+".private")
}
