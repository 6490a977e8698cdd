package cmd

import (
	"fmt"

	"minio-backend/core/backend"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// initializeBucketsCmd represents the initialize-buckets command
var initializeBucketsCmd = &cobra.Command{
	Use:   "initialize-buckets",
	Short: "Create declared buckets and apply their policies",
	Long: `Creates every bucket listed in STORAGE_PRIVATE_BUCKETS and STORAGE_PUBLIC_BUCKETS
that does not exist yet, and brings each bucket policy in line with its visibility.
Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		silenced, _ := cmd.Flags().GetBool("silenced")

		_, logg, settings, err := bootstrap()
		if err != nil {
			return err
		}
		defer logg.Sync()

		store, err := backend.Connect(settings, logg)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}

		report, err := store.Reconciler().Reconcile(cmd.Context(), settings.Buckets())
		if err != nil {
			return err
		}

		if !silenced {
			fmt.Println("\n=== Bucket Initialization ===")
			for _, b := range report.Buckets {
				state := "ok"
				if !b.OK() {
					state = "FAILED: " + b.Error
				}
				hook := ""
				if b.HookApplied {
					hook = " (policy hook)"
				}
				fmt.Printf("%-40s %-8s %s%s\n", b.Name, b.Visibility, state, hook)
			}
		}

		if failed := report.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d of %d buckets could not be initialized", len(failed), len(report.Buckets))
		}
		logg.Info("Buckets initialized", zap.Int("buckets", len(report.Buckets)))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(initializeBucketsCmd)
	initializeBucketsCmd.Flags().Bool("silenced", false, "Do not print the report")
}
