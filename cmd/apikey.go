package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-apiaccess/app/entity"
	"github.com/vibast-solutions/ms-go-apiaccess/app/repository"
	"github.com/vibast-solutions/ms-go-apiaccess/app/service"
	"github.com/vibast-solutions/ms-go-apiaccess/config"
)

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var (
	createDescription string
	createMode        string
	createExpiresIn   time.Duration
	createOwnerType   string
	createOwnerID     int64
	createWithSecret  bool
)

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE: func(_ *cobra.Command, _ []string) error {
		accessService, db, err := newAccessServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		params := service.CreateKeyParams{
			Description: createDescription,
			Mode:        createMode,
			OwnerType:   createOwnerType,
			OwnerID:     createOwnerID,
			WithSecret:  createWithSecret,
		}
		if createExpiresIn > 0 {
			params.ExpiresAt = sql.NullTime{Time: time.Now().Add(createExpiresIn), Valid: true}
		}

		key, plainSecret, err := accessService.CreateKey(context.Background(), params)
		if err != nil {
			return err
		}

		fmt.Printf("key: %s\n", key.Key)
		fmt.Printf("mode: %s\n", key.Mode)
		if plainSecret != "" {
			fmt.Printf("secret: %s\n", plainSecret)
			fmt.Println("store the secret now; it is shown only once")
		}
		if key.ExpiresAt.Valid {
			fmt.Printf("expires_at: %s\n", key.ExpiresAt.Time.Format(time.RFC3339))
		}
		if key.Mode == entity.ModeLive {
			fmt.Println("note: a live key without domain rules is accepted from any host; add rules with `apiaccess domain add`")
		}
		return nil
	},
}

var apiKeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE: func(_ *cobra.Command, _ []string) error {
		accessService, db, err := newAccessServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		keys, err := accessService.ListKeys(context.Background())
		if err != nil {
			return err
		}

		for _, key := range keys {
			status := "active"
			if !key.Active(time.Now()) {
				status = "inactive"
			}
			description := ""
			if key.Description.Valid {
				description = key.Description.String
			}
			fmt.Printf("%s\t%s\t%s\tuses=%d\t%s\n", key.Key, key.Mode, status, key.UsageCount, description)
		}
		return nil
	},
}

var apiKeyActivateCmd = &cobra.Command{
	Use:   "activate <key>",
	Short: "Activate an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return setKeyActive(args[0], true)
	},
}

var apiKeyDeactivateCmd = &cobra.Command{
	Use:   "deactivate <key>",
	Short: "Deactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return setKeyActive(args[0], false)
	},
}

var apiKeyRegenerateSecretCmd = &cobra.Command{
	Use:   "regenerate-secret <key>",
	Short: "Replace the secret for an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		accessService, db, err := newAccessServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		key, plainSecret, err := accessService.RegenerateSecret(context.Background(), args[0])
		if err != nil {
			if errors.Is(err, service.ErrAPIKeyNotFound) {
				return fmt.Errorf("api key %q not found", args[0])
			}
			return err
		}

		fmt.Printf("key: %s\n", key.Key)
		fmt.Printf("secret: %s\n", plainSecret)
		fmt.Println("store the secret now; it is shown only once")
		return nil
	},
}

var apiKeyDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		accessService, db, err := newAccessServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := accessService.DeleteKey(context.Background(), args[0]); err != nil {
			if errors.Is(err, service.ErrAPIKeyNotFound) {
				return fmt.Errorf("api key %q not found", args[0])
			}
			return err
		}

		fmt.Printf("deleted api key %s\n", args[0])
		return nil
	},
}

func init() {
	apiKeyCreateCmd.Flags().StringVar(&createDescription, "description", "", "human-readable description")
	apiKeyCreateCmd.Flags().StringVar(&createMode, "mode", "", "key mode: live or test (defaults to DEFAULT_KEY_MODE)")
	apiKeyCreateCmd.Flags().DurationVar(&createExpiresIn, "expires-in", 0, "expiry relative to now, e.g. 720h (0 means never)")
	apiKeyCreateCmd.Flags().StringVar(&createOwnerType, "owner-type", "", "external owner type tag")
	apiKeyCreateCmd.Flags().Int64Var(&createOwnerID, "owner-id", 0, "external owner id")
	apiKeyCreateCmd.Flags().BoolVar(&createWithSecret, "with-secret", false, "also generate a secret for the key")

	apiKeyCmd.AddCommand(apiKeyCreateCmd)
	apiKeyCmd.AddCommand(apiKeyListCmd)
	apiKeyCmd.AddCommand(apiKeyActivateCmd)
	apiKeyCmd.AddCommand(apiKeyDeactivateCmd)
	apiKeyCmd.AddCommand(apiKeyRegenerateSecretCmd)
	apiKeyCmd.AddCommand(apiKeyDeleteCmd)
	rootCmd.AddCommand(apiKeyCmd)
}

func setKeyActive(rawKey string, active bool) error {
	accessService, db, err := newAccessServiceForCommands()
	if err != nil {
		return err
	}
	defer db.Close()

	key, err := accessService.SetActive(context.Background(), rawKey, active)
	if err != nil {
		if errors.Is(err, service.ErrAPIKeyNotFound) {
			return fmt.Errorf("api key %q not found", rawKey)
		}
		return err
	}

	state := "activated"
	if !active {
		state = "deactivated"
	}
	fmt.Printf("%s api key %s\n", state, key.Key)
	return nil
}

func newAccessServiceForCommands() (*service.APIAccessService, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, nil, err
	}

	apiKeyRepo := repository.NewAPIKeyRepository(db)
	matcher := service.NewDomainMatcher(cfg.LocalhostDomains)
	accessService := service.NewAPIAccessService(apiKeyRepo, matcher, cfg)

	return accessService, db, nil
}
