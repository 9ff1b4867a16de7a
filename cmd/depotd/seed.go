package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bus-depot-backend/internal/db"
	"bus-depot-backend/internal/layout"
	"bus-depot-backend/internal/logger"
	"bus-depot-backend/internal/store"
)

var (
	seedLevels int
	seedLots   int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the depot layout into the database",
	Long: "Applies layout.path from the configuration, or the generated default layout " +
		"when no path is set. Seeding is idempotent and never touches bay occupancy.",
	RunE: seed,
}

func init() {
	seedCmd.Flags().IntVar(&seedLevels, "levels", 4, "levels in the generated default layout")
	seedCmd.Flags().IntVar(&seedLots, "lots", 5, "lots per area in the generated default layout")
	rootCmd.AddCommand(seedCmd)
}

func seed(cmd *cobra.Command, args []string) error {
	log := logger.New("seed")

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var l *layout.Layout
	if cfg.Layout.Path != "" {
		if l, err = layout.Load(cfg.Layout.Path); err != nil {
			return err
		}
	} else {
		l = layout.Default(seedLevels, seedLots)
	}
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid layout: %w", err)
	}

	gormDB, err := db.Init(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	summary, err := l.Apply(cmd.Context(), store.NewGormStore(gormDB))
	if err != nil {
		return fmt.Errorf("apply layout: %w", err)
	}
	log.Info().
		Int("floors", summary.Floors).
		Int("checkpoints", summary.Checkpoints).
		Int("bays", summary.Bays).
		Msg("layout seeded")
	return nil
}
