package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/poller"
	"github.com/example/storefront/internal/routes"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/utils"
)

func serveCmd() *cobra.Command {
	var noSweep bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app := fiber.New(fiber.Config{
				AppName:      "Storefront Payments",
				ErrorHandler: handlers.ErrorHandler(rt.log),
			})
			app.Use(recover.New())
			app.Use(requestid.New())
			app.Use(middleware.RequestLogger(rt.log))

			paymentHandler := handlers.NewPaymentHandler(rt.initiation, rt.reconciliation, rt.sweeper, rt.audit, rt.cfg.PaymentTTL, rt.log)
			routes.Register(app, paymentHandler, rt.cfg)

			if !noSweep {
				go rt.sweeper.Run(ctx, rt.cfg.SweepInterval, rt.cfg.PaymentTTL)
			}

			errCh := make(chan error, 1)
			go func() {
				rt.log.Info("starting server", zap.String("port", rt.cfg.AppPort))
				errCh <- app.Listen(":" + rt.cfg.AppPort)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			rt.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return app.ShutdownWithContext(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the periodic auto-cancel sweeper")
	return cmd
}

func sweepCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Cancel orders whose payment stayed pending past the TTL, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			if ttl <= 0 {
				ttl = rt.cfg.PaymentTTL
			}
			res, err := rt.sweeper.Sweep(cmd.Context(), ttl)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "override PAYMENT_TTL_HOURS")
	return cmd
}

func pollCmd() *cobra.Command {
	var (
		baseURL     string
		token       string
		handle      string
		interval    time.Duration
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll the query endpoint until a payment handle resolves",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handle == "" {
				return errors.New("--handle is required")
			}

			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			p := poller.New(log)
			p.Interval = interval
			p.MaxAttempts = maxAttempts

			client := poller.NewClient(baseURL, token, 15*time.Second)
			res, err := client.Await(cmd.Context(), p, handle)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Outcome, res.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080/api", "API base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("API_TOKEN"), "bearer token")
	cmd.Flags().StringVar(&handle, "handle", "", "provider handle returned by initiate")
	cmd.Flags().DurationVar(&interval, "interval", poller.DefaultInterval, "delay between attempts")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", poller.DefaultMaxAttempts, "attempt limit")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if role != services.RoleCustomer && role != services.RoleAdmin {
				return fmt.Errorf("role must be %s or %s", services.RoleCustomer, services.RoleAdmin)
			}
			token, err := utils.GenerateToken(cfg.JWTSecret, userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", services.RoleCustomer, "customer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
