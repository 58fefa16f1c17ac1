package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/app"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/config"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/token"
)

var Version = "dev"

func main() {
	var configPath, envFile string

	rootCmd := &cobra.Command{
		Use:     "transfer-aggregator",
		Short:   "Ground transfer search, booking and cancellation across suppliers",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// a missing .env is fine, the environment may be set otherwise
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(tokenCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cancellation worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// wire all components
	appConfig, err := app.SetAppConfig(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := appConfig.Close(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()
	if err := appConfig.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: appConfig.Router,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}

	// graceful shutdown
	idleConnsClosed := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("initiating graceful shutdown", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown error", "error", err)
		}
		// Cancel root context so ALL goroutines & requests stop
		rootCancel()
		close(idleConnsClosed)
	}()

	logger.Info("starting server", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-idleConnsClosed
	logger.Info("server stopped")
	return nil
}

func tokenCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect offer and booking tokens",
	}

	var kind string
	decode := &cobra.Command{
		Use:   "decode [token]",
		Short: "Verify a token with the configured secret and print its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			codec, err := token.NewCodec([]byte(cfg.Token.Secret))
			if err != nil {
				return err
			}

			var out any
			switch kind {
			case "offer":
				ref, err := codec.DecodeOffer(args[0])
				if err != nil && !errors.Is(err, token.ErrOfferExpired) {
					return err
				}
				out = struct {
					token.OfferRef
					Expired bool
				}{ref, err != nil}
			case "booking":
				ref, err := codec.DecodeBooking(args[0])
				if err != nil {
					return err
				}
				out = ref
			default:
				return fmt.Errorf("unknown token kind %q", kind)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	decode.Flags().StringVarP(&kind, "kind", "k", "offer", "token kind (offer, booking)")

	cmd.AddCommand(decode)
	return cmd
}
