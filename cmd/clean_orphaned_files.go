package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"minio-backend/core/audit"
	"minio-backend/core/backend"
	"minio-backend/core/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cleanOrphanedFilesCmd represents the clean-orphaned-files command
var cleanOrphanedFilesCmd = &cobra.Command{
	Use:   "clean-orphaned-files",
	Short: "Delete stored files no database row references",
	Long: `Compares the objects of the audited buckets with the file references found in
the columns listed in AUDIT_SOURCES (table.column) and deletes the objects nothing
references. Use --dry-run to only report them and --check-missing to also report
references whose object is gone.

Without --bucket or AUDIT_BUCKETS only the default bucket is audited. When no
default bucket is configured every declared bucket is audited except the static
files bucket, which must be named explicitly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		startTime := time.Now()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		checkMissing, _ := cmd.Flags().GetBool("check-missing")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		buckets, _ := cmd.Flags().GetStringSlice("bucket")

		cfg, logg, settings, err := bootstrap()
		if err != nil {
			return err
		}
		defer logg.Sync()

		store, err := backend.Connect(settings, logg)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}

		// Connect to database (required)
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return fmt.Errorf("database connection required: %w", err)
		}

		// Unprefixed references belong to the default bucket, else the first declared one
		defaultBucket := settings.HealthBucket()
		var declared []string
		for _, b := range settings.Buckets() {
			declared = append(declared, b.Name)
		}

		sources, err := audit.ParseSources(db, cfg.Audit, defaultBucket, declared)
		if err != nil {
			return err
		}

		if len(buckets) == 0 {
			buckets = cfg.Audit.Buckets
		}

		logg.Info("Looking for orphaned files (this might take a while)...",
			zap.Bool("dry_run", dryRun),
			zap.Strings("sources", cfg.Audit.Sources),
		)
		report, err := audit.NewAuditor(store.Client(), sources, settings, logg).Run(ctx, audit.Options{
			DryRun:       dryRun,
			CheckMissing: checkMissing,
			Buckets:      buckets,
		})
		if err != nil {
			return fmt.Errorf("orphan audit failed: %w", err)
		}

		var filename string
		if jsonOutput {
			filename = fmt.Sprintf("orphaned_files_%d.json", time.Now().Unix())
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal JSON: %w", err)
			}
			if err := os.WriteFile(filename, data, 0644); err != nil {
				return fmt.Errorf("failed to save JSON file: %w", err)
			}
			logg.Info("Detailed JSON report saved", zap.String("file", filename))
		}

		executionTime := time.Since(startTime)

		fmt.Println("\n=== Orphaned Files ===")
		fmt.Printf("References: %d\n", report.Referenced)
		fmt.Printf("Orphans: %d\n", len(report.Orphans))
		if dryRun {
			fmt.Println("Deleted: 0 (dry run)")
		} else {
			fmt.Printf("Deleted: %d\n", report.Deleted)
			fmt.Printf("Delete Errors: %d\n", len(report.DeleteErrors))
		}
		if checkMissing {
			fmt.Printf("Missing Files: %d\n", len(report.Missing))
		}
		for bucket, reason := range report.BucketErrors {
			fmt.Printf("Bucket %s skipped: %s\n", bucket, reason)
		}
		fmt.Printf("Execution Time: %s\n", executionTime.String())
		if filename != "" {
			fmt.Printf("\nDetailed JSON saved to: %s\n", filename)
		}

		if len(report.DeleteErrors) > 0 || len(report.BucketErrors) > 0 {
			return fmt.Errorf("orphan cleanup finished with %d delete errors and %d unreadable buckets",
				len(report.DeleteErrors), len(report.BucketErrors))
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(cleanOrphanedFilesCmd)
	cleanOrphanedFilesCmd.Flags().Bool("dry-run", false, "Report orphans without deleting them")
	cleanOrphanedFilesCmd.Flags().Bool("check-missing", false, "Also report references to missing files")
	cleanOrphanedFilesCmd.Flags().Bool("json", false, "Save the detailed report as JSON")
	cleanOrphanedFilesCmd.Flags().StringSlice("bucket", nil, "Restrict the run to these buckets")
}
