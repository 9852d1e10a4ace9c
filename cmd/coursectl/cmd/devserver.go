package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coursemart/authclient/config"
	"github.com/coursemart/authclient/devserver"
	"github.com/coursemart/authclient/identity"
)

var (
	port          int
	accessTTL     time.Duration
	requireVerify bool
	seedUsers     []string
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run the in-memory development API",
	Long: `Serves a fake CourseMart auth and catalog API for local testing.
Verification codes are written to the log.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := config.NewLogger(cmd.ErrOrStderr(), logLevel, debug)
		if err != nil {
			return err
		}
		opts := []devserver.Option{
			devserver.WithLogger(logger),
			devserver.WithAccessTTL(accessTTL),
		}
		if requireVerify {
			opts = append(opts, devserver.RequireEmailVerification())
		}
		for _, seed := range seedUsers {
			user, pw, err := parseSeedUser(seed)
			if err != nil {
				return err
			}
			opts = append(opts, devserver.WithUser(user, pw))
		}
		srv := devserver.New(opts...)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/", srv.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		out := cmd.OutOrStdout()
		printBanner(out)
		fmt.Fprintf(out, "Listening on port %d, API docs at /docs\n", port)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// parseSeedUser parses email:password[:role] into a verified account.
func parseSeedUser(raw string) (identity.Identity, string, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return identity.Identity{}, "", fmt.Errorf("seed user %q: want email:password[:role]", raw)
	}
	r := identity.RoleStudent
	if len(parts) == 3 {
		r = identity.Role(parts[2])
	}
	user := identity.Identity{
		ID:            uuid.NewString(),
		Email:         identity.NormalizeEmail(parts[0]),
		Role:          r,
		Status:        identity.StatusActive,
		EmailVerified: true,
	}
	if err := user.Validate(); err != nil {
		return identity.Identity{}, "", fmt.Errorf("seed user %q: %w", raw, err)
	}
	return user, parts[1], nil
}

func init() {
	rootCmd.AddCommand(devserverCmd)
	devserverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	devserverCmd.Flags().DurationVar(&accessTTL, "access-ttl", 15*time.Minute, "Access token lifetime")
	devserverCmd.Flags().BoolVar(&requireVerify, "require-verification", false, "Block login until the email code is confirmed")
	devserverCmd.Flags().StringArrayVar(&seedUsers, "seed-user", nil, "Seed an account as email:password[:role] (repeatable)")
}
