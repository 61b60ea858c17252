package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/logger"
	pgstore "varejo/backend/internal/store/postgres"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "migrate",
		Usage: "manage the order database schema and operator accounts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "postgres connection string",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: withMigrator(func(_ *cli.Context, m *pgstore.Migrator) error {
					return m.Up()
				}),
			},
			{
				Name:  "down",
				Usage: "roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back, 0 for all"},
				},
				Action: withMigrator(func(c *cli.Context, m *pgstore.Migrator) error {
					return m.Down(c.Int("steps"))
				}),
			},
			{
				Name:  "version",
				Usage: "print the applied schema version",
				Action: withMigrator(func(c *cli.Context, m *pgstore.Migrator) error {
					version, dirty, ok, err := m.Version()
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(c.App.Writer, "no migrations applied")
						return nil
					}
					fmt.Fprintf(c.App.Writer, "version %d (dirty=%t)\n", version, dirty)
					return nil
				}),
			},
			{
				Name:  "create-user",
				Usage: "add an operator account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"NEW_USER_PASSWORD"}},
					&cli.StringFlag{Name: "role", Value: "cashier", Usage: "admin or cashier"},
					&cli.StringFlag{Name: "tenant", Value: "default", EnvVars: []string{"DEFAULT_TENANT_ID"}},
				},
				Action: createUser,
			},
		},
	}
}

func newLogger(c *cli.Context) *zap.Logger {
	return logger.New(logger.Config{Level: c.String("log-level"), Format: "console"})
}

func openStore(c *cli.Context) (*pgstore.Store, error) {
	url := strings.TrimSpace(c.String("database-url"))
	if url == "" {
		return nil, errors.New("DATABASE_URL or --database-url is required")
	}
	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	return pgstore.New(ctx, url)
}

func withMigrator(run func(*cli.Context, *pgstore.Migrator) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		log := newLogger(c)
		defer func() { _ = log.Sync() }()

		st, err := openStore(c)
		if err != nil {
			return err
		}
		defer st.Close()

		m, err := pgstore.NewMigrator(st.DB(), log)
		if err != nil {
			return err
		}
		return run(c, m)
	}
}

func userFromFlags(c *cli.Context) (domain.UserAccount, error) {
	role := strings.ToLower(strings.TrimSpace(c.String("role")))
	if role != "admin" && role != "cashier" {
		return domain.UserAccount{}, fmt.Errorf("role must be admin or cashier, got %q", role)
	}
	password := c.String("password")
	if len(password) < 8 {
		return domain.UserAccount{}, errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserAccount{}, err
	}
	return domain.UserAccount{
		Username: strings.ToLower(strings.TrimSpace(c.String("username"))),
		Password: string(hash),
		Role:     role,
		TenantID: strings.TrimSpace(c.String("tenant")),
		Active:   true,
	}, nil
}

func createUser(c *cli.Context) error {
	log := newLogger(c)
	defer func() { _ = log.Sync() }()

	user, err := userFromFlags(c)
	if err != nil {
		return err
	}
	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreateUser(c.Context, user); err != nil {
		return err
	}
	log.Info("user created",
		zap.String("username", user.Username),
		zap.String("role", user.Role),
		zap.String("tenant_id", user.TenantID),
	)
	return nil
}
