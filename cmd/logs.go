package cmd

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-apiaccess/app/repository"
	"github.com/vibast-solutions/ms-go-apiaccess/app/service"
	"github.com/vibast-solutions/ms-go-apiaccess/config"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Manage the audit log store",
}

var (
	cleanupDays   int
	cleanupDryRun bool
	cleanupForce  bool
)

var logsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete audit log entries older than the retention window",
	RunE: func(_ *cobra.Command, _ []string) error {
		retentionService, db, err := newRetentionServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()

		if cleanupDryRun {
			result, err := retentionService.Cleanup(ctx, cleanupDays, true)
			if err != nil {
				return err
			}
			fmt.Printf("would delete %d entries older than %s (%d would remain)\n",
				result.Deleted, result.Cutoff.Format(time.RFC3339), result.Remaining)
			return nil
		}

		if !cleanupForce && !confirmCleanup() {
			fmt.Println("aborted")
			return nil
		}

		result, err := retentionService.Cleanup(ctx, cleanupDays, false)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d entries older than %s (%d remain)\n",
			result.Deleted, result.Cutoff.Format(time.RFC3339), result.Remaining)
		return nil
	},
}

func init() {
	logsCleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention window in days (0 uses API_LOG_RETENTION_DAYS)")
	logsCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be deleted without deleting")
	logsCleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "skip the confirmation prompt")

	logsCmd.AddCommand(logsCleanupCmd)
	rootCmd.AddCommand(logsCmd)
}

func confirmCleanup() bool {
	fmt.Print("This permanently deletes audit log entries. Continue? [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func newRetentionServiceForCommands() (*service.RetentionService, *sql.DB, error) {
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

	apiLogRepo := repository.NewAPILogRepository(db)
	retentionService := service.NewRetentionService(apiLogRepo, cfg)

	return retentionService, db, nil
}
