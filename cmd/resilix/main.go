package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quotelab/resilix"
	"github.com/quotelab/resilix/config"
)

const defaultConfigPath = "resilix.yaml"

func main() {
	root := &cobra.Command{
		Use:     "resilix",
		Short:   "Resilient HTTP fetches with retries, caching and circuit breaking",
		Version: resilix.Version,
	}

	root.AddCommand(
		newFetchCmd(),
		newCacheCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print detailed version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resilix.GetVersion())
		},
	}
}

// loadConfig reads the config file, falling back to built-in defaults when
// the default path does not exist. An explicitly named file must exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}
