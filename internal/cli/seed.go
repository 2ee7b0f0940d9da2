package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/storage"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load tenant datasets from a YAML fixture into the store",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringP("file", "f", "", "Fixture file")
	_ = seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	file, _ := cmd.Flags().GetString("file")

	fixture, err := storage.LoadFixture(file)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLite(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	ids, err := storage.Seed(cmd.Context(), store, fixture)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d tenant(s): %s\n", len(ids), strings.Join(ids, ", "))
	return nil
}
