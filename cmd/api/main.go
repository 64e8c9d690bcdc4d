package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v3"

	"approvaldesk/internal/auth"
	"approvaldesk/internal/config"
	"approvaldesk/internal/store"
)

func main() {
	root := &cli.Command{
		Name:  "approvaldesk",
		Usage: "Approval workflow API for record changes",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			tokenCommand(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServer(ctx)
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API (default)",
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServer(ctx)
		},
	}
}

func migrateCommand() *cli.Command {
	withDB := func(fn func(ctx context.Context, db *sqlx.DB) error) cli.ActionFunc {
		return func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			return fn(ctx, db)
		}
	}
	return &cli.Command{
		Name:  "migrate",
		Usage: "manage the database schema",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Action: withDB(func(ctx context.Context, db *sqlx.DB) error {
					return store.Migrate(ctx, db)
				}),
			},
			{
				Name:  "down",
				Usage: "roll back the latest migration",
				Action: withDB(func(ctx context.Context, db *sqlx.DB) error {
					return store.Rollback(ctx, db)
				}),
			},
			{
				Name:  "status",
				Usage: "print the current schema version",
				Action: withDB(func(ctx context.Context, db *sqlx.DB) error {
					version, err := store.Version(ctx, db)
					if err != nil {
						return err
					}
					fmt.Printf("schema version %d\n", version)
					return nil
				}),
			},
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint a bearer token for local development",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Required: true, Usage: "user id carried by the token"},
			&cli.StringFlag{Name: "name", Usage: "display name"},
			&cli.StringFlag{Name: "role", Value: "requester", Usage: "requester, reviewer or admin"},
			&cli.StringSliceFlag{Name: "cap", Usage: "extra capability, repeatable"},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime (defaults to APPROVALDESK_ACCESS_TTL_SECONDS)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ttl := c.Duration("ttl")
			if ttl <= 0 {
				ttl = cfg.AccessTTL
			}
			name := c.String("name")
			if name == "" {
				name = c.String("subject")
			}
			claims := auth.NewClaims(c.String("subject"), name, c.String("role"), ttl, c.StringSlice("cap")...)
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), claims)
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Fprintf(os.Stderr, "expires %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
			return nil
		},
	}
}
