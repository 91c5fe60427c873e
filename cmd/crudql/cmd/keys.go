package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/auth"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/config"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/db"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an API key bound to a principal and roles",
	RunE:  runKeysCreate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued API keys",
	RunE:  runKeysList,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	keysCreateCmd.Flags().String("principal", "", "caller id the key authenticates as")
	keysCreateCmd.Flags().StringSlice("roles", nil, "roles granted to the key")
	_ = keysCreateCmd.MarkFlagRequired("principal")

	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysRevokeCmd)
	rootCmd.AddCommand(keysCmd)
}

// withAuthenticator opens the key database and runs fn.
func withAuthenticator(cmd *cobra.Command, fn func(*auth.Authenticator) error) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}

	database, err := db.Open(cfg.Storage.DBURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.MigrateUp(database); err != nil {
		return err
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		return err
	}
	return fn(auth.NewAuthenticator(secrets, queries))
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	principal, _ := cmd.Flags().GetString("principal")
	roles, _ := cmd.Flags().GetStringSlice("roles")

	return withAuthenticator(cmd, func(a *auth.Authenticator) error {
		issued, err := a.Issue(cmd.Context(), principal, roles)
		if err != nil {
			if errors.Is(err, auth.ErrNoSecrets) {
				return fmt.Errorf("%w (set %s_HMAC_SECRET)", err, config.EnvPrefix)
			}
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:        %s\n", issued.ID)
		fmt.Fprintf(out, "principal: %s\n", issued.Principal)
		fmt.Fprintf(out, "roles:     %s\n", strings.Join(issued.Roles, ","))
		fmt.Fprintf(out, "key:       %s\n", issued.Key)
		fmt.Fprintln(out, "The key is not stored and cannot be shown again.")
		return nil
	})
}

func runKeysList(cmd *cobra.Command, args []string) error {
	return withAuthenticator(cmd, func(a *auth.Authenticator) error {
		keys, err := a.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPRINCIPAL\tROLES\tCREATED\tLAST USED\tREVOKED")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				k.ID, k.Principal, k.Roles, k.CreatedAt.Format(time.RFC3339),
				formatNullTime(k.LastUsedAt.Valid, k.LastUsedAt.Time),
				formatNullTime(k.RevokedAt.Valid, k.RevokedAt.Time))
		}
		return w.Flush()
	})
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	return withAuthenticator(cmd, func(a *auth.Authenticator) error {
		if err := a.Revoke(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
		return nil
	})
}

func formatNullTime(valid bool, t time.Time) string {
	if !valid {
		return "-"
	}
	return t.Format(time.RFC3339)
}
