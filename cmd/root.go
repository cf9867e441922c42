package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/safezone-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "safezone",
	Short: "Landslide clustering and safe-zone pipeline",
	Long:  "Clusters landslide events inside a country boundary, buffers every event into a candidate safe zone, renders maps, and writes the layers into a GeoPackage QGIS can open.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
