package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang-intel-service/internal/auth"
	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/config"
	"golang-intel-service/internal/logging"
	"golang-intel-service/internal/model"
	"golang-intel-service/internal/storage"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

type cliArgs struct {
	EnvFile  string
	LogLevel string
	Port     string
	Source   string

	TokenUser   string
	TokenLevel  string
	TokenRegion string
	TokenTTL    time.Duration

	PublishCategory string
	PublishKey      string
	PublishPayload  string
}

var cmdArgs cliArgs

func main() {
	app := &cli.App{
		Version:     "v1.0.0",
		Usage:       "application entrypoint",
		Description: "Real-time intelligence stream with clearance-gated WebSocket channels",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "Env file to load. Tries configs/production.env, configs/streamer.env and .env if not specified.",
				Aliases:     []string{"e"},
				EnvVars:     []string{"ENV_FILE"},
				Value:       "",
				DefaultText: "",
				Destination: &cmdArgs.EnvFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				Value:       "",
				DefaultText: "info",
				Destination: &cmdArgs.LogLevel,
			},
		},
		Commands: []*cli.Command{
			{
				Name:        "serve",
				Usage:       "Run the streaming server",
				Description: "Serves the WebSocket streams and the status API, fed by the configured data source",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "port",
						Usage:       "Listen port, overrides WS_PORT",
						Aliases:     []string{"p"},
						Destination: &cmdArgs.Port,
					},
					&cli.StringFlag{
						Name:        "source",
						Usage:       "Data source: [simulated redis kafka], overrides SOURCE",
						Aliases:     []string{"s"},
						Destination: &cmdArgs.Source,
					},
				},
				Action: startServer,
			},
			{
				Name:        "token",
				Usage:       "Issue a signed access token",
				Description: "Signs a token with JWT_SECRET for connecting to the secure stream",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "user",
						Usage:       "User ID carried by the token",
						Aliases:     []string{"u"},
						Value:       "operator",
						Destination: &cmdArgs.TokenUser,
					},
					&cli.StringFlag{
						Name:        "level",
						Usage:       "Clearance level: [unclassified confidential secret top_secret top_secret_sci]",
						Value:       "secret",
						Destination: &cmdArgs.TokenLevel,
					},
					&cli.StringFlag{
						Name:        "jurisdiction",
						Usage:       "Jurisdiction carried by the token",
						Value:       "public",
						Destination: &cmdArgs.TokenRegion,
					},
					&cli.DurationFlag{
						Name:        "ttl",
						Usage:       "Token lifetime",
						Value:       time.Hour,
						Destination: &cmdArgs.TokenTTL,
					},
				},
				Action: issueToken,
			},
			{
				Name:        "publish",
				Usage:       "Publish one record to Redis",
				Description: "Publishes a record on records:<category>, where a server started with --source redis picks it up",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "category",
						Usage:       "Record category, e.g. market_data",
						Aliases:     []string{"c"},
						Required:    true,
						Destination: &cmdArgs.PublishCategory,
					},
					&cli.StringFlag{
						Name:        "key",
						Usage:       "Record key within the category",
						Aliases:     []string{"k"},
						Required:    true,
						Destination: &cmdArgs.PublishKey,
					},
					&cli.StringFlag{
						Name:        "payload",
						Usage:       "JSON object carried by the record",
						Value:       "{}",
						Destination: &cmdArgs.PublishPayload,
					},
				},
				Action: publishRecord,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// loadConfig reads the environment, applies command line overrides and
// validates the result once
func loadConfig() (*config.Config, error) {
	var envFiles []string
	if cmdArgs.EnvFile != "" {
		envFiles = []string{cmdArgs.EnvFile}
	}
	cfg, err := config.Read(envFiles...)
	if err != nil {
		return nil, err
	}

	if cmdArgs.LogLevel != "" {
		cfg.Logging.Level = cmdArgs.LogLevel
	}
	if cmdArgs.Port != "" {
		cfg.Server.Port = cmdArgs.Port
	}
	if cmdArgs.Source != "" {
		cfg.Producer.Source = cmdArgs.Source
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func startServer(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, syncLogs, err := logging.New(cfg.Logging, cfg.App.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = syncLogs() }()

	logger.Info("🚀 Starting intel streamer",
		zap.String("version", c.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("addr", cfg.Address()))

	if cfg.IsDevelopment() && cfg.Auth.JWTSecret == "" {
		logger.Warn("⚠️ JWT_SECRET is not set, presented tokens will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("❌ Failed to create application", zap.Error(err))
		return err
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("⚠️ Error during shutdown", zap.Error(err))
		return err
	}
	logger.Info("✅ Application shutdown complete")
	return nil
}

func issueToken(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}

	level, err := channel.ParseLevel(cmdArgs.TokenLevel)
	if err != nil {
		return err
	}

	token, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer).Issue(auth.Identity{
		UserID:       cmdArgs.TokenUser,
		Clearance:    level,
		Jurisdiction: cmdArgs.TokenRegion,
	}, cmdArgs.TokenTTL)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, token)
	return nil
}

// buildRecord assembles a record from command line values
func buildRecord(registry *channel.Registry, category, key, payload string, now time.Time) (model.Record, error) {
	if !registry.KnownCategory(channel.Category(category)) {
		return model.Record{}, fmt.Errorf("unknown category %q", category)
	}
	if key == "" {
		return model.Record{}, fmt.Errorf("record key is required")
	}

	body := model.Payload{}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return model.Record{}, fmt.Errorf("failed to parse payload: %w", err)
	}
	return model.Record{
		Category:  channel.Category(category),
		Key:       key,
		Payload:   body,
		Timestamp: now.UTC(),
	}, nil
}

func publishRecord(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rec, err := buildRecord(channel.DefaultRegistry(), cmdArgs.PublishCategory, cmdArgs.PublishKey, cmdArgs.PublishPayload, time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	adapter, err := storage.NewRedisAdapter(ctx, cfg.Redis.URL, nil)
	if err != nil {
		return err
	}
	defer adapter.Close()

	if err := adapter.PublishRecord(ctx, rec); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "published %s/%s to %s\n", rec.Category, rec.Key, storage.RecordsChannel(rec.Category))
	return nil
}
