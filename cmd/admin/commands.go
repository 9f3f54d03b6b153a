package main

import (
	"alumnet/backend/internal/api/handler"
	"alumnet/backend/internal/app"
	"alumnet/backend/internal/config"
	"alumnet/backend/internal/messages"
	"alumnet/backend/internal/network"
	"alumnet/backend/internal/storage"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var userFlag = &cli.StringFlag{
	Name:     "user",
	Aliases:  []string{"u"},
	Usage:    "User id",
	Required: true,
}

func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database schema",
		Action: func(c *cli.Context) error {
			if _, err := openStore(c); err != nil {
				return err
			}
			fmt.Println("Schema is up to date")
			return nil
		},
	}
}

func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for a user",
		Flags: []cli.Flag{
			userFlag,
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime; defaults to auth.token_ttl",
			},
		},
		Action: runToken,
	}
}

func PendingCommand() *cli.Command {
	return &cli.Command{
		Name:   "pending",
		Usage:  "List the incoming pending requests of a user, newest first",
		Flags:  []cli.Flag{userFlag},
		Action: runPending,
	}
}

func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Print the message history of a connection, or one message with --message",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "connection", Usage: "Connection id"},
			&cli.UintFlag{Name: "message", Usage: "Message id"},
		},
		Action: runHistory,
	}
}

func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:   "index",
		Usage:  "Print the connection index of a user",
		Flags:  []cli.Flag{userFlag},
		Action: runIndex,
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openStore(c *cli.Context) (*storage.Service, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return app.OpenStore(cfg, zap.NewNop())
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}

	ttl := cfg.Auth.TokenTTL
	if c.IsSet("ttl") {
		ttl = c.Duration("ttl")
	}
	auth := handler.Auth{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer, TTL: ttl}
	token, err := auth.IssueToken(c.String("user"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(ttl).Format(time.RFC3339))
	return nil
}

func runPending(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	conns, err := store.ListIncomingPending(c.Context, c.String("user"))
	if err != nil {
		return err
	}
	for _, conn := range conns {
		fmt.Printf("%s  from %s  %s\n", conn.ID, conn.SenderID, conn.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := app.OpenStore(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	if c.IsSet("message") {
		m, err := store.GetMessage(c.Context, c.Uint("message"))
		if err != nil {
			return err
		}
		return printJSON(m)
	}
	if c.String("connection") == "" {
		return fmt.Errorf("either --connection or --message is required")
	}

	svc := messages.NewService(store, nil, app.RetryConfig(cfg), zap.NewNop())
	history, err := svc.ListHistory(c.Context, c.String("connection"))
	if err != nil {
		return err
	}
	for _, m := range history {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, m.Content)
	}
	return nil
}

func runIndex(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := app.OpenStore(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	svc := network.NewService(store, nil, app.RetryConfig(cfg), zap.NewNop())

	ix, err := svc.Refresh(c.Context, c.String("user"))
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"viewer":           ix.Viewer,
		"statuses":         ix.Snapshot(),
		"incoming_pending": ix.IncomingPending(),
	})
}
