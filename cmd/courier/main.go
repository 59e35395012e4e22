// Package main is the entry point for courier.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/campora/courier/internal/audit"
	"github.com/campora/courier/internal/bounce"
	"github.com/campora/courier/internal/charset"
	"github.com/campora/courier/internal/compose"
	"github.com/campora/courier/internal/config"
	"github.com/campora/courier/internal/counters"
	"github.com/campora/courier/internal/identity"
	"github.com/campora/courier/internal/transport"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "courier",
		Short: "courier - outbound mail composition and dispatch",
		Long:  "courier - outbound mail composition and dispatch",
	}
	root.Version = version
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().String("config-dir", config.ConfigDir(), "configuration directory")

	root.AddCommand(
		newSendCmd(),
		newWatchBouncesCmd(),
		newCheckCmd(),
	)
	return root
}

type sendFlags struct {
	toID       int64
	to         string
	toName     string
	mailFormat int
	fromName   string
	subject    string
	body       string
	bodyHTML   string
	replyTo    string
	attach     string
	attachName string
	origin     string
	outDir     string
}

func newSendCmd() *cobra.Command {
	var f sendFlags
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Compose and dispatch a single message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSend(cmd.Context(), cfg, &f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&f.toID, "to-id", 0, "recipient user id")
	cmd.Flags().StringVar(&f.to, "to", "", "recipient address")
	cmd.Flags().StringVar(&f.toName, "to-name", "", "recipient display name")
	cmd.Flags().IntVar(&f.mailFormat, "mail-format", identity.FormatPlain, "recipient mail format (0 plain, 1 html)")
	cmd.Flags().StringVar(&f.fromName, "from-name", "System", "system sender display name")
	cmd.Flags().StringVar(&f.subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&f.body, "body", "", "plaintext body")
	cmd.Flags().StringVar(&f.bodyHTML, "body-html", "", "pre-rendered html body")
	cmd.Flags().StringVar(&f.replyTo, "reply-to", "", "reply-to override address")
	cmd.Flags().StringVar(&f.attach, "attach", "", "attachment path")
	cmd.Flags().StringVar(&f.attachName, "attach-name", "", "declared attachment filename")
	cmd.Flags().StringVar(&f.origin, "origin", "cli", "provenance tag for the origin header")
	cmd.Flags().StringVar(&f.outDir, "out-dir", "", "write the message to this directory instead of sending")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func runSend(ctx context.Context, cfg *config.Config, f *sendFlags, out io.Writer) error {
	var tp compose.Transport
	if f.outDir != "" {
		tp = transport.NewFile(f.outDir)
	} else {
		tp = transport.NewSMTP(cfg.SMTP)
	}

	store, err := counters.Open(cfg.Site.DataDir, cfg.Mail.BounceThreshold)
	if err != nil {
		return fmt.Errorf("open counters store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate counters store: %w", err)
	}

	p := compose.New(cfg, tp, store, audit.NewLog(nil))
	p.EnableTrace(out)

	if f.toID == 0 {
		f.toID = 1
	}
	req := compose.NewRequest(
		&identity.User{
			ID:         f.toID,
			Email:      f.to,
			FirstName:  f.toName,
			MailFormat: f.mailFormat,
		},
		identity.Sender{Name: f.fromName},
		f.subject, f.body,
	)
	req.BodyHTML = f.bodyHTML
	req.Origin = f.origin
	if f.replyTo != "" {
		req.ReplyTo = &compose.Address{Email: f.replyTo}
	}
	if f.attach != "" {
		req.Attachment = &compose.Attachment{Path: f.attach, Name: f.attachName}
	}

	if !p.Dispatch(ctx, req) {
		return fmt.Errorf("message was not sent")
	}
	fmt.Fprintln(out, "message dispatched")
	return nil
}

func newWatchBouncesCmd() *cobra.Command {
	var directory string
	cmd := &cobra.Command{
		Use:   "watch-bounces",
		Short: "Poll the bounce mailbox and record delivery failures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runWatchBounces(cmd.Context(), cfg, directory)
		},
	}
	cmd.Flags().StringVar(&directory, "directory", "", "toml file mapping user ids to addresses")
	_ = cmd.MarkFlagRequired("directory")
	return cmd
}

func runWatchBounces(ctx context.Context, cfg *config.Config, directory string) error {
	lookup, err := directoryLookup(directory)
	if err != nil {
		return err
	}

	store, err := counters.Open(cfg.Site.DataDir, cfg.Mail.BounceThreshold)
	if err != nil {
		return fmt.Errorf("open counters store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate counters store: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return bounce.NewMonitor(cfg, store, lookup).Run(ctx)
}

// directoryLookup loads a static id→address map. Deployments with a user
// store wire a live lookup instead.
func directoryLookup(path string) (bounce.LookupFunc, error) {
	var entries map[string]string
	if _, err := toml.DecodeFile(path, &entries); err != nil {
		return nil, fmt.Errorf("load directory file: %w", err)
	}
	return func(_ context.Context, userID int64) (string, error) {
		addr, ok := entries[fmt.Sprintf("%d", userID)]
		if !ok {
			return "", fmt.Errorf("unknown user id %d", userID)
		}
		return addr, nil
	}, nil
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and report signing readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "no-reply address: %s\n", cfg.NoReplyAddress())
			fmt.Fprintf(out, "mail domain:      %s\n", cfg.MailDomain())

			if cfg.Mail.DKIMSelector == "" {
				fmt.Fprintln(out, "dkim:             disabled (no selector)")
			} else {
				keyPath := cfg.DKIMKeyPath(cfg.MailDomain())
				if _, err := os.Stat(keyPath); err != nil {
					fmt.Fprintf(out, "dkim:             key missing at %s\n", keyPath)
				} else {
					fmt.Fprintf(out, "dkim:             signing with %s\n", keyPath)
				}
			}

			codec := charset.New()
			if !charset.IsUTF8(cfg.Mail.SiteCharset) {
				if _, err := codec.Convert("check", "utf-8", cfg.Mail.SiteCharset); err != nil {
					return fmt.Errorf("site charset: %w", err)
				}
				fmt.Fprintf(out, "site charset:     %s\n", cfg.Mail.SiteCharset)
			}
			fmt.Fprintf(out, "charsets:         %s\n", strings.Join(codec.Supported(), ", "))
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		return nil, err
	}
	return config.LoadFrom(dir)
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
