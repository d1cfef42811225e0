package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/auth"
	"github.com/zulandar/ember/internal/config"
	"github.com/zulandar/ember/internal/db"
	"github.com/zulandar/ember/internal/ghstatus"
	"github.com/zulandar/ember/internal/journal"
	"github.com/zulandar/ember/internal/logging"
	"github.com/zulandar/ember/internal/telegraph"
	"github.com/zulandar/ember/internal/telegraph/discord"
	"github.com/zulandar/ember/internal/telegraph/slack"
	"gorm.io/gorm"
)

const defaultConfigPath = "ember.yaml"

// env is what every command needs: config, logger, the local store and a
// backend client authenticated from it.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *gorm.DB
	creds   *auth.Store
	client  *api.Client
	journal *journal.Journal
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to ember config file")
}

// openEnv loads config and opens the local store. EMBER_TOKEN, when set,
// takes precedence over the stored credential.
func openEnv(cmd *cobra.Command, configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    cmd.ErrOrStderr(),
	})

	gormDB, err := db.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	creds := auth.NewStore(gormDB, cfg.APIURL, logger)

	var tokens api.TokenSource = creds
	if cfg.Token != "" {
		tokens = api.NewStaticToken(cfg.Token)
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		db:     gormDB,
		creds:  creds,
		client: api.NewClient(api.ClientOpts{
			BaseURL: cfg.APIURL,
			Tokens:  tokens,
			Logger:  logger,
		}),
		journal: journal.New(gormDB, cfg.Project, logger),
	}, nil
}

func (e *env) Close() {
	if sqlDB, err := e.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (e *env) session() *auth.Session {
	return &auth.Session{Store: e.creds, Client: e.client}
}

// project returns the configured project or app.ErrNoProject.
func (e *env) project() (string, error) {
	if e.cfg.Project == "" {
		return "", app.ErrNoProject
	}
	return e.cfg.Project, nil
}

// openConsole builds the full console: caches primed, GitHub PR source and
// chat notifications attached when configured.
func (e *env) openConsole(ctx context.Context) (*app.Console, error) {
	opts := app.Options{
		Config:  e.cfg,
		Backend: e.client,
		Journal: e.journal,
		Logger:  e.logger,
	}

	if gh := e.cfg.GitHub; gh.Enabled() {
		src, err := ghstatus.New(ctx, ghstatus.Options{
			Token:  gh.Token,
			Repo:   gh.Repo,
			Jobs:   e.client,
			Logger: e.logger,
		})
		if err != nil {
			return nil, err
		}
		opts.PRs, opts.Merger = src, src
	}

	adapters, err := e.chatAdapters()
	if err != nil {
		return nil, err
	}
	if len(adapters) > 0 {
		n := telegraph.NewNotifier(telegraph.NotifierOpts{
			Project:  e.cfg.Project,
			Adapters: adapters,
			Logger:   e.logger,
		})
		if err := n.Connect(ctx); err != nil {
			e.logger.Warn("chat notifications disabled", "err", err)
		} else {
			opts.Notifier = n
		}
	}

	c, err := app.New(ctx, opts)
	if err != nil {
		if opts.Notifier != nil {
			opts.Notifier.Close()
		}
		return nil, err
	}
	return c, nil
}

func (e *env) chatAdapters() ([]telegraph.Adapter, error) {
	var adapters []telegraph.Adapter
	if sc := e.cfg.Telegraph.Slack; sc.Enabled() {
		a, err := slack.New(slack.AdapterOpts{BotToken: sc.BotToken, ChannelID: sc.Channel, Logger: e.logger})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if dc := e.cfg.Telegraph.Discord; dc.Enabled() {
		a, err := discord.New(discord.AdapterOpts{BotToken: dc.BotToken, ChannelID: dc.Channel, Logger: e.logger})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// withConsole opens the environment and console, runs fn, and tears both
// down again.
func withConsole(cmd *cobra.Command, configPath string, fn func(ctx context.Context, e *env, c *app.Console) error) error {
	e, err := openEnv(cmd, configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	c, err := e.openConsole(ctx)
	if err != nil {
		return err
	}
	defer func() {
		c.Close()
		if c.Notifier != nil {
			c.Notifier.Close()
		}
	}()
	return fn(ctx, e, c)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
