package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/cache"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/config"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/logger"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/service"
	pgstore "github.com/crossnetg1-dev/cidpos-sub001/internal/store/postgres"
)

var errNoDatabase = errors.New("DATABASE_URL must be set")

// bootService loads config and opens the postgres-backed service used by the
// one-shot commands. The caller closes the returned store.
func bootService(ctx context.Context) (*service.Service, *pgstore.Store, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, nil, errNoDatabase
	}
	log := logger.New(cfg.AppEnv)
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newService(cfg, pg, cache.Noop{}, nil, log), pg, nil
}

// cidpos migrate
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply all pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.DatabaseURL == "" {
			return errNoDatabase
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Running migrations...")
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations up to date.")
		return nil
	},
}

var initFlags struct {
	storeName string
	name      string
	username  string
	password  string
}

// cidpos init
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the first administrator, roles and defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := resolvePassword(initFlags.password, "CIDPOS_ADMIN_PASSWORD")
		if err != nil {
			return err
		}
		cfg := config.Load()
		if cfg.DatabaseURL == "" {
			return errNoDatabase
		}
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		svc, pg, err := bootService(cmd.Context())
		if err != nil {
			return err
		}
		defer pg.Close()

		admin, err := svc.Bootstrap(cmd.Context(), domain.SetupRequest{
			StoreName: initFlags.storeName,
			Name:      initFlags.name,
			Username:  initFlags.username,
			Password:  password,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized. Administrator %q can now sign in.\n", admin.Username)
		return nil
	},
}

var wipeFlags struct {
	username string
	password string
	yes      bool
}

// cidpos wipe
var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete all transaction history, keeping the catalog and users",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeFlags.yes {
			return errors.New("refusing to wipe without --yes")
		}
		password, err := resolvePassword(wipeFlags.password, "CIDPOS_ADMIN_PASSWORD")
		if err != nil {
			return err
		}
		svc, pg, err := bootService(cmd.Context())
		if err != nil {
			return err
		}
		defer pg.Close()

		return wipeHistory(cmd.Context(), svc, wipeFlags.username, password, cmd.OutOrStdout())
	},
}

func init() {
	initCmd.Flags().StringVar(&initFlags.storeName, "store-name", "", "store name shown on receipts")
	initCmd.Flags().StringVar(&initFlags.name, "name", "Administrator", "administrator display name")
	initCmd.Flags().StringVar(&initFlags.username, "username", "admin", "administrator username")
	initCmd.Flags().StringVar(&initFlags.password, "password", "", "administrator password (or CIDPOS_ADMIN_PASSWORD)")

	wipeCmd.Flags().StringVar(&wipeFlags.username, "username", "admin", "Super Admin username")
	wipeCmd.Flags().StringVar(&wipeFlags.password, "password", "", "Super Admin password (or CIDPOS_ADMIN_PASSWORD)")
	wipeCmd.Flags().BoolVar(&wipeFlags.yes, "yes", false, "confirm the wipe")
}

// wipeHistory signs in as username and runs the same gated wipe the HTTP
// endpoint uses.
func wipeHistory(ctx context.Context, svc *service.Service, username string, password string, out io.Writer) error {
	actor, err := svc.Authenticate(ctx, username, password)
	if err != nil {
		return err
	}
	result, err := svc.WipeHistory(service.WithActor(ctx, actor), password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Wiped %d sales, %d purchases, %d stock movements, %d adjustments, %d returns, %d payments and %d held carts.\n",
		result.Sales, result.Purchases, result.StockMovements, result.Adjustments, result.Returns, result.Payments, result.HeldCarts)
	return nil
}

func resolvePassword(flagValue string, envKey string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("a password is required: pass --password or set %s", envKey)
}
