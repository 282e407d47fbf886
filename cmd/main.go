package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/markjakearzadon/folio-gobackend/internal/config"
	"github.com/markjakearzadon/folio-gobackend/internal/handlers"
	"github.com/markjakearzadon/folio-gobackend/internal/middleware"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
)

var envFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          "folio",
		Short:        "Payments, orders and download access for the Folio book store",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file to load before reading variables")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(indexesCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			slog.SetDefault(logger)

			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET environment variable not set")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			router := handlers.NewRouter(
				handlers.RouterConfig{
					JWTSecret:      cfg.JWTSecret,
					RateLimiter:    middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
					TrustedProxies: cfg.TrustedProxies,
				},
				handlers.NewPaymentHandler(a.payments, a.ledger, a.webhooks, logger),
				handlers.NewOrderHandler(a.orders, a.ledger, a.sweeper, logger),
				handlers.NewDownloadHandler(a.gate, logger),
			)
			server := &http.Server{
				Addr:         "0.0.0.0:" + cfg.Port,
				Handler:      router,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
			}

			go a.sweeper.Run(ctx)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server_started", "port", cfg.Port, "storage", cfg.Storage.Driver)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Info("server_stopping")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale pending payments and reconcile pending orders once",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.sweeper.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d reconciled=%d\n", report.Expired, report.Reconciled)
			return err
		},
	}
}

func indexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "Create storage indexes (MongoDB) or the schema (SQLite)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			s, err := openStorage(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.ensureIndexes(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "storage ready:", cfg.Storage.Driver)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var booksFile, usersFile string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load catalog books and users from JSON files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if booksFile == "" && usersFile == "" {
				return errors.New("specify --books and/or --users")
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			s, err := openStorage(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			if booksFile != "" {
				var books []models.Book
				if err := readJSON(booksFile, &books); err != nil {
					return err
				}
				for i := range books {
					if err := s.stores.Catalog.UpsertBook(ctx, &books[i]); err != nil {
						return fmt.Errorf("upsert book %s: %w", books[i].ID, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d books\n", len(books))
			}
			if usersFile != "" {
				var users []models.User
				if err := readJSON(usersFile, &users); err != nil {
					return err
				}
				for i := range users {
					if err := s.stores.Users.UpsertUser(ctx, &users[i]); err != nil {
						return fmt.Errorf("upsert user %s: %w", users[i].ID, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users\n", len(users))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&booksFile, "books", "", "JSON array of books")
	cmd.Flags().StringVar(&usersFile, "users", "", "JSON array of users")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		admin  bool
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET environment variable not set")
			}
			tok, err := middleware.IssueToken(cfg.JWTSecret, userID, admin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the token subject")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the administrator role")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
