package cmd

import (
	"fmt"
	"os"

	"minio-backend/core/backend"

	"github.com/spf13/cobra"
)

// checkStoreHealthCmd represents the check-store-health command
var checkStoreHealthCmd = &cobra.Command{
	Use:   "check-store-health",
	Short: "Check that the object store is reachable",
	Long:  `Probes the object store and exits with status 1 when it cannot be reached.`,
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

		status := store.IsAvailable(cmd.Context())
		if !silenced {
			fmt.Println(status.Detail)
		}
		if !status.Available {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(checkStoreHealthCmd)
	checkStoreHealthCmd.Flags().Bool("silenced", false, "Only report through the exit status")
}
