package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	database, err := db.Open(cfg.Storage.DBURL)
	if err != nil {
		return err
	}
	defer database.Close()

	start := time.Now()
	if err := db.MigrateUp(database); err != nil {
		return err
	}
	log.Info("migrations applied", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	database, err := db.Open(cfg.Storage.DBURL)
	if err != nil {
		return err
	}
	defer database.Close()

	statuses, err := db.MigrateStatus(database)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, s := range statuses {
		if s.Applied {
			fmt.Fprintf(out, "%-32s applied %s (%dms)\n", s.ID, s.AppliedAt.Format(time.RFC3339), s.ExecutionMs)
		} else {
			fmt.Fprintf(out, "%-32s pending\n", s.ID)
		}
	}
	return nil
}
