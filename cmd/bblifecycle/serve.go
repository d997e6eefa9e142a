package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/commands"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/config"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/debug"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/eventbus"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/slackbot"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/telemetry"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lifecycle service",
	Long: `Run the lifecycle service: the HTTP endpoint that renders lifecycle events
and runs signed action callbacks, the Slack bot that posts lifecycle messages
and handles clicks, and optionally a NATS JetStream consumer for events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(); err != nil {
			return err
		}
		return serve(rootCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	if err := telemetry.Init(ctx, "bblifecycle", Version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()
	instruments := telemetry.NewInstruments()

	prefs, err := config.LoadPreferences(config.PreferencesPath())
	if err != nil {
		return err
	}
	stateDir := filepath.Dir(prefs.Path())

	bb, err := newBitbucketClient()
	if err != nil {
		return err
	}
	gc, err := newGraphClient(instruments)
	if err != nil {
		return err
	}

	registry := lifecycle.NewBitbucketRegistry(config.Lifecycle(), gc)
	registry.SetInstruments(instruments)
	signer := webhook.NewSigner([]byte(config.GetString(config.KeyWebhookSecret)), config.GetDuration(config.KeyWebhookTokenTTL))

	var bot *slackbot.Bot
	dispatcher := commands.NewDispatcher(bb, gc, commands.ResponderFunc(func(ctx context.Context, r commands.Reply) error {
		if bot == nil {
			log.Printf("serve: %s reply %q: %s", r.Kind, r.Title, r.Text)
			return nil
		}
		return bot.Respond(ctx, r)
	}))
	dispatcher.SetInstruments(instruments)

	if token := config.GetString(config.KeySlackBotToken); token != "" {
		bot, err = slackbot.NewBot(slackbot.BotConfig{
			BotToken:  token,
			AppToken:  config.GetString(config.KeySlackAppToken),
			ChannelID: config.GetString(config.KeySlackChannel),
			StateDir:  stateDir,
			KnownIDs:  contributorIDs(registry),
			Debug:     debug.Enabled(),
		}, signer, dispatcher, prefs)
		if err != nil {
			return fmt.Errorf("slack: %w", err)
		}
	}

	var poster webhook.Poster
	if bot != nil {
		poster = bot
	}
	server := webhook.NewServer(webhook.ServerConfig{
		Renderer:    registry,
		Executor:    dispatcher,
		Poster:      poster,
		Preferences: prefs,
		Signer:      signer,
	})

	stopBus, err := startEventBus(ctx, stateDir, registry, prefs, signer, poster)
	if err != nil {
		return err
	}
	defer stopBus()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := prefs.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serve: preferences watch stopped: %v", err)
		}
		return nil
	})

	addr := config.GetString(config.KeyWebhookAddr)
	g.Go(func() error {
		log.Printf("serve: listening on %s", addr)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if bot != nil {
		g.Go(func() error {
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("slack: %w", err)
			}
			return nil
		})
		if port := config.GetInt(config.KeySlackHealthPort); port > 0 {
			health := slackbot.NewHealthServer(bot, port)
			g.Go(func() error { return health.Start(ctx) })
		}
	}

	return g.Wait()
}

// startEventBus connects the JetStream consumer when NATS is configured,
// either to nats.url or to an embedded server. The returned func stops it.
func startEventBus(ctx context.Context, stateDir string, r webhook.Renderer, prefs lifecycle.Preferences, signer *webhook.Signer, poster webhook.Poster) (func(), error) {
	var (
		nc       *nats.Conn
		embedded *eventbus.Server
		err      error
	)
	switch {
	case config.GetBool(config.KeyNATSEmbedded):
		storeDir := config.GetString(config.KeyNATSStoreDir)
		if storeDir == "" {
			storeDir = filepath.Join(stateDir, "nats")
		}
		embedded, err = eventbus.StartServer(eventbus.ServerConfig{
			Port:     config.GetInt(config.KeyNATSPort),
			StoreDir: storeDir,
			Token:    config.GetString(config.KeyNATSToken),
		})
		if err != nil {
			return nil, err
		}
		log.Printf("serve: embedded NATS on %s", embedded.ClientURL())
		nc = embedded.Conn()
	case config.GetString(config.KeyNATSURL) != "":
		nc, err = eventbus.Connect(config.GetString(config.KeyNATSURL), config.GetString(config.KeyNATSToken))
		if err != nil {
			return nil, err
		}
	default:
		return func() {}, nil
	}

	stop := func() {
		if embedded != nil {
			embedded.Shutdown()
			return
		}
		_ = nc.Drain()
	}

	js, err := eventbus.JetStream(nc)
	if err != nil {
		stop()
		return nil, err
	}
	bus := eventbus.New()
	bus.SetJetStream(js)
	bus.Register(&eventbus.RenderHandler{Renderer: r, Preferences: prefs, Signer: signer})
	if poster != nil {
		bus.Register(&eventbus.PostHandler{Poster: poster})
	}
	sub, err := bus.Subscribe(ctx, eventbus.DefaultDurable)
	if err != nil {
		stop()
		return nil, err
	}
	return func() {
		_ = sub.Drain()
		stop()
	}, nil
}
