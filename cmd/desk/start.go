package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/frontdesk/internal/config"
	"github.com/zulandar/frontdesk/internal/dashboard"
	"github.com/zulandar/frontdesk/internal/db"
	"github.com/zulandar/frontdesk/internal/journal"
	"github.com/zulandar/frontdesk/internal/telegraph"
	discordnotifier "github.com/zulandar/frontdesk/internal/telegraph/discord"
	slacknotifier "github.com/zulandar/frontdesk/internal/telegraph/slack"
	"github.com/zulandar/frontdesk/internal/telegraph/socketio"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/term"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the desk",
		Long:  "Connects to the support backend, serves the operator API, and posts alerts to the configured chat platform.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to desk config file")
	return cmd
}

// Overridable in tests.
var (
	stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	readPassword    = func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) }
)

func runStart(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := ensureToken(out, &cfg.Transport); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	transport, err := socketio.New(socketio.Opts{
		URL:          cfg.Transport.URL,
		Path:         cfg.Transport.Path,
		Namespace:    cfg.Transport.Namespace,
		TokenSource:  tokenSource(ctx, cfg.Transport),
		MaxReconnect: cfg.Transport.MaxReconnect,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Backend: %s (namespace %s)\n", transport.Endpoint(), transport.Namespace())

	opts := telegraph.DaemonOpts{
		Transport: transport,
		Operator: telegraph.Operator{
			ID:     cfg.Operator.ID,
			Name:   cfg.Operator.Name,
			Sector: cfg.Operator.Sector,
		},
		NotifyChannel: cfg.Notify.Channel,
		WalkUpAlerts:  cfg.Notify.WalkUpAlerts,
		Out:           out,
	}
	if cfg.Digest.Enabled {
		opts.DigestCron = cfg.Digest.Cron
	}

	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return err
	}
	if notifier != nil {
		name, err := notifier.Check()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Notifier: %s as %s\n", cfg.Notify.Platform, name)
		opts.Notifier = notifier
	}

	store, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("desk: close journal: %v", err)
			}
			if n := store.Dropped(); n > 0 {
				fmt.Fprintf(out, "Journal dropped %d entries\n", n)
			}
		}()
		opts.Journal = store
		fmt.Fprintf(out, "Journal: %s\n", cfg.Journal.Driver)
	}

	daemon, err := telegraph.NewDaemon(opts)
	if err != nil {
		return err
	}

	dashOpts := dashboard.StartOpts{
		Daemon: daemon,
		Addr:   cfg.Dashboard.Addr(),
		Out:    out,
	}
	if store != nil {
		dashOpts.Journal = store
	}
	dashDone := make(chan struct{})
	go func() {
		defer close(dashDone)
		if err := dashboard.Start(ctx, dashOpts); err != nil {
			log.Printf("desk: %v", err)
			cancel()
		}
	}()

	err = daemon.Run(ctx)
	cancel()
	<-dashDone
	return err
}

// ensureToken prompts for a backend token on a terminal when neither a
// static token nor client credentials are configured.
func ensureToken(out io.Writer, tc *config.TransportConfig) error {
	if tc.Token != "" || tc.OAuth.Enabled() {
		return nil
	}
	if !stdinIsTerminal() {
		return fmt.Errorf("no backend token configured (set transport.token or DESK_TRANSPORT_TOKEN)")
	}
	fmt.Fprint(out, "Backend token: ")
	raw, err := readPassword()
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	tc.Token = strings.TrimSpace(string(raw))
	if tc.Token == "" {
		return fmt.Errorf("no backend token entered")
	}
	return nil
}

// tokenSource builds the transport's credentials. Client credentials win
// over a static token; nil means connect anonymously.
func tokenSource(ctx context.Context, tc config.TransportConfig) oauth2.TokenSource {
	if tc.OAuth.Enabled() {
		cc := &clientcredentials.Config{
			ClientID:     tc.OAuth.ClientID,
			ClientSecret: tc.OAuth.ClientSecret,
			TokenURL:     tc.OAuth.TokenURL,
			Scopes:       tc.OAuth.Scopes,
		}
		return cc.TokenSource(ctx)
	}
	if tc.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tc.Token})
	}
	return nil
}

// checkedNotifier is a notifier that can verify its credentials.
type checkedNotifier interface {
	telegraph.Notifier
	Check() (string, error)
}

// buildNotifier creates the chat notifier for the configured platform. It
// returns nil when notifications are off.
func buildNotifier(nc config.NotifyConfig) (checkedNotifier, error) {
	switch nc.Platform {
	case "":
		return nil, nil
	case "slack":
		n, err := slacknotifier.New(slacknotifier.NotifierOpts{
			BotToken:  nc.SlackBotToken,
			ChannelID: nc.Channel,
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	case "discord":
		n, err := discordnotifier.New(discordnotifier.NotifierOpts{
			BotToken:  nc.DiscordBotToken,
			ChannelID: nc.Channel,
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("desk: unsupported notify platform %q", nc.Platform)
	}
}

// openJournal connects, migrates and starts the journal writer. It returns
// nil when journaling is disabled.
func openJournal(jc config.JournalConfig) (*journal.Store, error) {
	gormDB, err := db.Connect(jc)
	if err != nil {
		return nil, err
	}
	if gormDB == nil {
		return nil, nil
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return journal.New(journal.StoreOpts{DB: gormDB, Buffer: jc.Buffer})
}
