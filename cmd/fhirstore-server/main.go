package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirstore/internal/config"
	"github.com/ehr/fhirstore/internal/platform/auth"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "fhirstore-server",
		Short:        "Versioned FHIR resource server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initStoreCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func initStoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-store",
		Short: "Create the current and history collections of every resource type",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			backend, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			names, err := initStore(ctx, backend, newRegistry())
			if err != nil {
				return err
			}
			logger.Info().Strs("collections", names).Msg("store initialized")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var resourceType, id string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Drop history entries written ahead of a resource's current record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			backend, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			stores, err := buildStores(backend.Database(), newRegistry(), cfg.FHIRBaseVersion, logger)
			if err != nil {
				return err
			}
			store, ok := stores[resourceType]
			if !ok {
				return fmt.Errorf("unknown resource type %q", resourceType)
			}
			removed, err := store.Reconcile(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned history entries for %s/%s\n", removed, resourceType, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceType, "type", "", "resource type, e.g. Patient")
	cmd.Flags().StringVar(&id, "id", "", "logical id")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var scopes []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is not set")
			}
			token, err := auth.NewToken([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "cli", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{"user/*.read"}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

// newLogger builds the process logger: JSON to stdout, console output in
// development.
func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a token are granted every scope")
	}

	ctx := context.Background()
	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
		return err
	}
	defer backend.Close()

	reg := newRegistry()
	if _, err := initStore(ctx, backend, reg); err != nil {
		return err
	}

	e, err := buildServer(cfg, logger, backend, reg)
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("driver", cfg.StoreDriver).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
