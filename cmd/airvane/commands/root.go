package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hllvc/airvane/internal/app"
	"github.com/hllvc/airvane/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "airvane",
		Usage: "IAP-authenticated gateway for Apache Airflow",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otel)",
				Value: string(app.DefaultConfigLogFormat),
			},
		},
		Commands: []*cli.Command{
			startCommand(),
			loginCommand(),
			logoutCommand(),
			statusCommand(),
		},
	}

	err := cmd.Run(ctx, args)

	// Flush any buffered log records regardless of how the command ended.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := observability.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}

	return err
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.StringFlag{
				Name:  "airflow--base-url",
				Usage: "Airflow base URL",
			},
			&cli.StringFlag{
				Name:  "auth--audience",
				Usage: "OAuth client ID of the IAP protecting Airflow",
			},
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	application, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "run the interactive consent flow and persist the credential",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "auth--audience",
				Usage: "OAuth client ID of the IAP protecting Airflow",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, err := buildApp(ctx, cmd)
			if err != nil {
				return err
			}
			if err := application.Manager().Login(ctx); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Println("Logged in.")
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "discard the persisted credential",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, err := buildApp(ctx, cmd)
			if err != nil {
				return err
			}
			if err := application.Manager().Logout(ctx); err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the credential status",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, err := buildApp(ctx, cmd)
			if err != nil {
				return err
			}
			mgr := application.Manager()
			mgr.Load(ctx)

			s := mgr.Status()
			fmt.Printf("Audience:      %s\n", s.Audience)
			fmt.Printf("Authenticated: %t\n", s.Authenticated)
			fmt.Printf("Refreshable:   %t\n", s.Refreshable)
			if !s.ExpiresAt.IsZero() {
				fmt.Printf("Expires:       %s (%s)\n",
					s.ExpiresAt.Format(time.RFC3339), time.Until(s.ExpiresAt).Round(time.Second))
			}

			// With a valid credential in hand, show what it can reach.
			if s.Authenticated {
				client := application.Airflow()
				if version, err := client.Version(ctx); err != nil {
					fmt.Printf("Airflow:       unreachable (%v)\n", err)
				} else {
					fmt.Printf("Airflow:       %s\n", version.Version)
					if health, err := client.Health(ctx); err == nil {
						fmt.Printf("Health:        metadatabase %s, scheduler %s\n",
							health.Metadatabase.Status, health.Scheduler.Status)
					}
				}
			}
			return nil
		},
	}
}

// buildApp loads configuration, sets up logging, and constructs the App
// shared by all commands.
func buildApp(ctx context.Context, cmd *cli.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	if err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat)); err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create app: %w", err)
	}
	return application, nil
}
