package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/quotelab/resilix"
	"github.com/quotelab/resilix/config"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the shared response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, cleanup, err := openBackend(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := backend.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %d\nValid:   %d\nExpired: %d\n", stats.Entries, stats.ValidItems, stats.ExpiredItems)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, cleanup, err := openBackend(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			removed, err := backend.Clear(!expiredOnly)
			if err != nil {
				return err
			}
			if expiredOnly {
				fmt.Printf("Removed %d expired cache entries.\n", removed)
			} else {
				fmt.Printf("Removed %d cache entries.\n", removed)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

// openBackend builds the configured cache backend for direct inspection.
// Only redis and sqlite backends have state that outlives a process.
func openBackend(configPath string) (resilix.Cache, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Cache.Backend == "" || cfg.Cache.Backend == "memory" {
		fmt.Fprintln(os.Stderr, "note: the memory backend has no state outside a running process")
	}

	backend, err := config.NewCacheBackend(&cfg.Cache)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closer, ok := backend.(io.Closer); ok {
			_ = closer.Close()
		}
	}
	return backend, cleanup, nil
}
