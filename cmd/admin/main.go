package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"stocksync-api/internal/cache"
	"stocksync-api/internal/config"
	"stocksync-api/internal/logger"
	"stocksync-api/internal/model"
	"stocksync-api/internal/repository"
	"stocksync-api/internal/service"
)

const usage = `Stocksync Admin CLI - operator commands for the stock sync service

Usage:
  admin <command> [options]

Commands:
  seed-token        Store the initial refresh token for the point-of-sale integration
  show-token        Print the stored credential (tokens masked unless --reveal)
  clear-inventory   Delete every inventory record and empty the lookup cache

Examples:
  # Seed the refresh token issued during the OAuth install
  admin seed-token --refresh-token=abc123

  # Inspect the stored credential
  admin show-token --reveal

  # Wipe the inventory collection before a full resync
  admin clear-inventory --yes
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	var err error
	switch command {
	case "seed-token":
		err = runSeedToken(os.Args[2:])
	case "show-token":
		err = runShowToken(os.Args[2:])
	case "clear-inventory":
		err = runClearInventory(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env holds what every command needs: config, a logger and open stores.
type env struct {
	cfg    *config.Config
	log    *zap.Logger
	stores *repository.Stores
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}).Named("admin")

	stores, err := repository.Open(ctx, cfg.InventoryDB, cfg.StateDB, log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, stores: stores}, nil
}

func (e *env) close() {
	if err := e.stores.Close(); err != nil {
		e.log.Warn("closing stores", zap.Error(err))
	}
	_ = e.log.Sync()
}

func runSeedToken(args []string) error {
	fs := flag.NewFlagSet("seed-token", flag.ExitOnError)
	refreshToken := fs.String("refresh-token", "", "Refresh token issued by the OAuth install (required)")
	integration := fs.String("integration", "", "Integration ID (defaults to LIGHTSPEED_INTEGRATION_ID)")
	timeout := fs.Duration("timeout", 30*time.Second, "Timeout for the operation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	id := *integration
	if id == "" {
		id = e.cfg.Lightspeed.IntegrationID
	}
	if err := seedToken(ctx, e.stores.State, id, *refreshToken, time.Now()); err != nil {
		return err
	}
	fmt.Printf("Seeded refresh token for %q in %s state store\n", id, e.stores.StateType)
	return nil
}

// seedToken writes a credential with no access token, so the first sync
// performs an exchange before its first request.
func seedToken(ctx context.Context, creds repository.CredentialRepository, integrationID, refreshToken string, now time.Time) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return errors.New("--refresh-token is required")
	}
	return creds.SaveCredential(ctx, model.Credential{
		IntegrationID: integrationID,
		RefreshToken:  refreshToken,
		UpdatedAt:     now.UTC(),
	})
}

func runShowToken(args []string) error {
	fs := flag.NewFlagSet("show-token", flag.ExitOnError)
	integration := fs.String("integration", "", "Integration ID (defaults to LIGHTSPEED_INTEGRATION_ID)")
	reveal := fs.Bool("reveal", false, "Print tokens in full")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	id := *integration
	if id == "" {
		id = e.cfg.Lightspeed.IntegrationID
	}
	return showToken(ctx, os.Stdout, e.stores.State, id, *reveal)
}

func showToken(ctx context.Context, w io.Writer, creds repository.CredentialRepository, integrationID string, reveal bool) error {
	cred, err := creds.GetCredential(ctx, integrationID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("no credential stored for %q; run seed-token first", integrationID)
	}
	if err != nil {
		return err
	}

	show := maskToken
	if reveal {
		show = func(s string) string { return s }
	}
	access := "(none)"
	if cred.AccessToken != "" {
		access = show(cred.AccessToken)
	}

	fmt.Fprintf(w, "Integration:   %s\n", cred.IntegrationID)
	fmt.Fprintf(w, "Access token:  %s\n", access)
	fmt.Fprintf(w, "Refresh token: %s\n", show(cred.RefreshToken))
	fmt.Fprintf(w, "Updated at:    %s\n", cred.UpdatedAt.Format(time.RFC3339))
	return nil
}

// maskToken keeps the first and last four characters.
func maskToken(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func runClearInventory(args []string) error {
	fs := flag.NewFlagSet("clear-inventory", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Confirm deletion of every inventory record")
	timeout := fs.Duration("timeout", 5*time.Minute, "Timeout for the operation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return errors.New("refusing to clear inventory without --yes")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	// Only a shared cache outlives this process; a memory cache starts empty.
	var lookupCache cache.Cache
	if e.cfg.Cache.Type == "redis" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      e.cfg.Cache.RedisAddress(),
			Password:  e.cfg.Cache.RedisPassword,
			DB:        e.cfg.Cache.RedisDB,
			KeyPrefix: e.cfg.Cache.RedisPrefix,
		}, e.log)
		if err != nil {
			return err
		}
		defer rc.Close()
		lookupCache = rc
	}

	svc := service.NewInventoryService(e.stores.Inventory, lookupCache, e.cfg.Cache.TTL, e.log)
	n, err := svc.Clear(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d inventory records from %s\n", n, e.stores.InventoryType)
	return nil
}
