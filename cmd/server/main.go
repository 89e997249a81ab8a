package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/Tyrowin/roomchat/internal/config"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

// Flags holds command line values. Config is the merged result of the
// config file and any flags that were set.
type Flags struct {
	ConfigPath string

	Port           string
	AllowedOrigins string
	AllowNoOrigin  bool
	MaxMessageSize int
	RateMessages   int
	RateWindow     time.Duration
	HistorySize    int
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	BusDriver      string
	NATSURL        string
	AuthDrivers    string
	AuthUsers      string
	JWTSecret      string
	JWTIssuer      string
	LogLevel       string
	LogFormat      string
	LogFile        string
	ShutdownAfter  time.Duration

	Config config.Config
}

func main() {
	if err := setupLogger(config.Default().Log); err != nil {
		panic(err)
	}

	flags := &Flags{}

	app := &cli.Command{
		Name:      "roomchat",
		Usage:     "Room based WebSocket chat server",
		UsageText: "roomchat [global options] [command [command options]]",
		Description: `roomchat relays chat messages between WebSocket clients joined to the same
room. Messages are throttled per user, kept in a bounded per-room history and
fanned out through Redis pub/sub or NATS so several instances can serve one
room.

Run 'roomchat' to start the server.
Run 'roomchat token <user>' to issue a JWT for local testing.`,
		Version: build(),
		Flags:   globalFlags(flags),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}

			cfg = applyFlags(c, flags, cfg).Sanitize()
			if err := cfg.Validate(); err != nil {
				return ctx, fmt.Errorf("invalid config: %w", err)
			}
			flags.Config = cfg

			if err := setupLogger(cfg.Log); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q. Run 'roomchat --help' for usage", c.Args().First())
			}
			return serve(ctx, flags.Config)
		},
	}

	app = NewTokenCmd(flags).Register(app)

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("roomchat exited with error")
		os.Exit(1)
	}
}

func globalFlags(flags *Flags) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to YAML config file",
			Sources:     cli.EnvVars("ROOMCHAT_CONFIG"),
			Value:       "roomchat.yaml",
			Destination: &flags.ConfigPath,
		},
		&cli.StringFlag{
			Name:        "port",
			Usage:       "listen address, e.g. :8080",
			Sources:     cli.EnvVars("SERVER_PORT"),
			Destination: &flags.Port,
		},
		&cli.StringFlag{
			Name:        "allowed-origins",
			Usage:       "comma separated WebSocket origins, * allows any",
			Sources:     cli.EnvVars("ALLOWED_ORIGINS"),
			Destination: &flags.AllowedOrigins,
		},
		&cli.BoolFlag{
			Name:        "allow-missing-origin",
			Usage:       "accept WebSocket upgrades without an Origin header (development)",
			Sources:     cli.EnvVars("ALLOW_MISSING_ORIGIN"),
			Destination: &flags.AllowNoOrigin,
		},
		&cli.IntFlag{
			Name:        "max-message-size",
			Usage:       "maximum inbound frame size in bytes",
			Sources:     cli.EnvVars("MAX_MESSAGE_SIZE"),
			Destination: &flags.MaxMessageSize,
		},
		&cli.IntFlag{
			Name:        "rate-limit-messages",
			Usage:       "messages allowed per user per window",
			Sources:     cli.EnvVars("RATE_LIMIT_MESSAGES"),
			Destination: &flags.RateMessages,
		},
		&cli.DurationFlag{
			Name:        "rate-limit-window",
			Usage:       "sliding rate limit window",
			Sources:     cli.EnvVars("RATE_LIMIT_WINDOW"),
			Destination: &flags.RateWindow,
		},
		&cli.IntFlag{
			Name:        "history-size",
			Usage:       "messages retained per room",
			Sources:     cli.EnvVars("HISTORY_SIZE"),
			Destination: &flags.HistorySize,
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis host:port",
			Sources:     cli.EnvVars("REDIS_ADDR"),
			Destination: &flags.RedisAddr,
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Sources:     cli.EnvVars("REDIS_PASSWORD"),
			Destination: &flags.RedisPassword,
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Sources:     cli.EnvVars("REDIS_DB"),
			Destination: &flags.RedisDB,
		},
		&cli.StringFlag{
			Name:        "bus-driver",
			Usage:       "broadcast bus (local, redis, nats)",
			Sources:     cli.EnvVars("BUS_DRIVER"),
			Destination: &flags.BusDriver,
		},
		&cli.StringFlag{
			Name:        "nats-url",
			Usage:       "NATS server URL for the nats bus",
			Sources:     cli.EnvVars("NATS_URL"),
			Destination: &flags.NATSURL,
		},
		&cli.StringFlag{
			Name:        "auth-driver",
			Usage:       "comma separated token resolvers (static, jwt), tried in order",
			Sources:     cli.EnvVars("AUTH_DRIVER"),
			Destination: &flags.AuthDrivers,
		},
		&cli.StringFlag{
			Name:        "auth-users",
			Usage:       "comma separated users accepted by the static resolver",
			Sources:     cli.EnvVars("AUTH_USERS"),
			Destination: &flags.AuthUsers,
		},
		&cli.StringFlag{
			Name:        "jwt-secret",
			Usage:       "HMAC secret for the jwt resolver",
			Sources:     cli.EnvVars("JWT_SECRET"),
			Destination: &flags.JWTSecret,
		},
		&cli.StringFlag{
			Name:        "jwt-issuer",
			Usage:       "expected JWT issuer",
			Sources:     cli.EnvVars("JWT_ISSUER"),
			Destination: &flags.JWTIssuer,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error, fatal, panic)",
			Sources:     cli.EnvVars("LOG_LEVEL"),
			Destination: &flags.LogLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log output format (console, json)",
			Sources:     cli.EnvVars("LOG_FORMAT"),
			Destination: &flags.LogFormat,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "path to log file (optional)",
			Sources:     cli.EnvVars("LOG_FILE"),
			Destination: &flags.LogFile,
		},
		&cli.DurationFlag{
			Name:        "shutdown-timeout",
			Usage:       "time allowed for graceful shutdown",
			Sources:     cli.EnvVars("SHUTDOWN_TIMEOUT"),
			Destination: &flags.ShutdownAfter,
		},
	}
}

// applyFlags overrides file values with the flags that were set on the
// command line or through their environment variables.
func applyFlags(c *cli.Command, f *Flags, cfg config.Config) config.Config {
	if c.IsSet("port") {
		cfg.Port = f.Port
	}
	if c.IsSet("allowed-origins") {
		cfg.AllowedOrigins = config.SplitList(f.AllowedOrigins)
	}
	if c.IsSet("allow-missing-origin") {
		cfg.AllowMissingOrigin = f.AllowNoOrigin
	}
	if c.IsSet("max-message-size") {
		cfg.MaxMessageSize = int64(f.MaxMessageSize)
	}
	if c.IsSet("rate-limit-messages") {
		cfg.RateLimit.Limit = f.RateMessages
	}
	if c.IsSet("rate-limit-window") {
		cfg.RateLimit.Window = f.RateWindow
	}
	if c.IsSet("history-size") {
		cfg.HistorySize = f.HistorySize
	}
	if c.IsSet("redis-addr") {
		cfg.Redis.Addr = f.RedisAddr
	}
	if c.IsSet("redis-password") {
		cfg.Redis.Password = f.RedisPassword
	}
	if c.IsSet("redis-db") {
		cfg.Redis.DB = f.RedisDB
	}
	if c.IsSet("bus-driver") {
		cfg.Bus.Driver = f.BusDriver
	}
	if c.IsSet("nats-url") {
		cfg.Bus.NATSURL = f.NATSURL
	}
	if c.IsSet("auth-driver") {
		cfg.Auth.Drivers = config.SplitList(f.AuthDrivers)
	}
	if c.IsSet("auth-users") {
		cfg.Auth.Users = config.SplitList(f.AuthUsers)
	}
	if c.IsSet("jwt-secret") {
		cfg.Auth.JWT.Secret = f.JWTSecret
	}
	if c.IsSet("jwt-issuer") {
		cfg.Auth.JWT.Issuer = f.JWTIssuer
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = f.LogLevel
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = f.LogFormat
	}
	if c.IsSet("log-file") {
		cfg.Log.File = f.LogFile
	}
	if c.IsSet("shutdown-timeout") {
		cfg.ShutdownTimeout = f.ShutdownAfter
	}
	return cfg
}
