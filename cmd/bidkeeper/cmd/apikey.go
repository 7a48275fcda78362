package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/bidkeeper/internal/core/auth"
	"github.com/solatis/bidkeeper/internal/core/config"
	"github.com/solatis/bidkeeper/internal/core/db"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage ingest API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create CLIENT_ID",
	Short: "Issue an API key for a client",
	Long: `Issue an API key for a client. The key is printed once; only its HMAC is stored.
Uses the secret given by --secret-id, or the only configured secret.`,
	Args: cobra.ExactArgs(1),
	RunE: runAPIKeyCreate,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke API_KEY_ID",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeDB, err := openAuthenticator(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		if err := a.RevokeKey(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyRevokeCmd)
	apikeyCreateCmd.Flags().String("secret-id", "", "HMAC secret ID to bind the key to")
	apikeyCreateCmd.Flags().String("name", "", "human readable key name")
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	a, closeDB, err := openAuthenticator(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	secretID, _ := cmd.Flags().GetString("secret-id")
	name, _ := cmd.Flags().GetString("name")
	if secretID == "" {
		ids := a.SecretIDs()
		if len(ids) != 1 {
			return fmt.Errorf("%d HMAC secrets configured, choose one with --secret-id", len(ids))
		}
		secretID = ids[0]
	}

	keyID, key, err := a.IssueKey(cmd.Context(), secretID, args[0], name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "api_key_id: %s\n", keyID)
	fmt.Fprintf(out, "api_key:    %s\n", key)
	return nil
}

// openAuthenticator connects to --db-url with the configured HMAC secrets.
func openAuthenticator(cmd *cobra.Command) (*auth.Authenticator, func(), error) {
	ctx := cmd.Context()
	secrets, err := config.HMACSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return nil, nil, fmt.Errorf("no HMAC secrets configured (set %s_HMAC_SECRET environment variable)", config.EnvPrefix)
	}

	database, err := openDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RequireMigrated(ctx, database); err != nil {
		database.Close()
		return nil, nil, err
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}

	return auth.NewAuthenticator(secrets, queries, newLogger(cmd)), func() { database.Close() }, nil
}
