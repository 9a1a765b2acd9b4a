package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/config"
	"relaybot/internal/crypto"
	"relaybot/internal/models"
	"relaybot/internal/moderation"
	"relaybot/internal/repository"
	"relaybot/internal/router"
	"relaybot/internal/server"
	"relaybot/internal/service"
	"relaybot/internal/telegram_bot"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "relaybot",
		Usage: "anonymous submission relay for Telegram",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to the YAML config file",
			Value:   config.DefaultPath,
			EnvVars: []string{"RELAY_CONFIG"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		migrateCmd,
		hashPasswordCmd,
		genKeyCmd,
	}
	app.DefaultCommand = runCmd.Name

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:   "run",
	Usage:  "run the bot and the operator HTTP server",
	Action: runBot,
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "apply database migrations and exit",
	Action: func(cctx *cli.Context) error {
		cfg, logger, err := setup(cctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()

		db, err := repository.NewDB(cfg.Database.Driver, cfg.Database.URL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		return repository.MigrateDB(db, logger)
	},
}

var hashPasswordCmd = &cli.Command{
	Name:      "hash-password",
	Usage:     "print the argon2id hash of a password for admin.password_hash",
	ArgsUsage: "<password>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return errors.New("expected exactly one password argument")
		}
		hash, err := service.HashPassword(cctx.Args().First())
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

var genKeyCmd = &cli.Command{
	Name:  "gen-key",
	Usage: "print a random key for database.payload_key",
	Action: func(cctx *cli.Context) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

func setup(cctx *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(cctx.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var logger *zap.Logger
	if cfg.Log.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func runBot(cctx *cli.Context) error {
	cfg, logger, err := setup(cctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := repository.NewDB(cfg.Database.Driver, cfg.Database.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := repository.MigrateDB(db, logger); err != nil {
		return err
	}

	sealer, err := crypto.NewSealer(cfg.Database.PayloadKey)
	if err != nil {
		return fmt.Errorf("invalid payload key: %w", err)
	}
	if sealer == nil {
		logger.Info("Payload encryption disabled (database.payload_key is empty)")
	}

	store, err := repository.NewCachedStore(repository.NewStore(db, sealer, logger.Named("store")), cfg.Database.CacheSize)
	if err != nil {
		return err
	}

	client, err := telegram_bot.NewClient(cfg.Telegram.Token, cfg.Telegram.RateLimit, cfg.Telegram.Debug, logger.Named("telegram"))
	if err != nil {
		return err
	}

	submissions, err := router.New(router.Options{
		GroupID:             cfg.Telegram.GroupID,
		MediaGroupWindow:    cfg.Relay.MediaGroupWindow,
		RequireRegistration: cfg.Relay.RequireRegistration,
		GreetingSticker:     cfg.Telegram.GreetingSticker,
		Texts: router.Texts{
			Greeting:      cfg.Texts.Greeting,
			Thanks:        cfg.Texts.Thanks,
			Blocked:       cfg.Texts.Blocked,
			NotRegistered: cfg.Texts.NotRegistered,
			SendFailed:    cfg.Texts.SendFailed,
		},
	}, store, client, logger.Named("router"))
	if err != nil {
		return err
	}

	workflow := moderation.New(moderation.Options{
		GroupID:     cfg.Telegram.GroupID,
		ChannelID:   cfg.Telegram.ChannelID,
		BotID:       client.BotID(),
		BotUsername: client.BotUsername(),
		Texts:       moderation.Texts{Published: cfg.Texts.Published},
	}, store, client, logger.Named("moderation"))

	bot := telegram_bot.NewBot(client, cfg.Telegram.GroupID, cfg.Telegram.PollTimeout, submissions, workflow, logger.Named("bot"))

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Start(ctx)
	})

	if cfg.Server.Enabled {
		if !cfg.Log.Development {
			gin.SetMode(gin.ReleaseMode)
		}
		var auth service.AuthService
		if cfg.Admin.Enabled {
			auth = service.NewAuthService(models.Operator{
				Username:     cfg.Admin.Username,
				PasswordHash: cfg.Admin.PasswordHash,
			}, []byte(cfg.Admin.JWTSecret), logger.Named("auth"))
		}
		srv := server.NewServer(db, store, auth, logger.Named("http"))
		g.Go(func() error {
			return srv.Run(ctx, ":"+cfg.Server.Port)
		})
	}

	err = g.Wait()
	logger.Info("Application stopped.")
	return err
}
