package main

import (
	"context"
	"os"

	"github.com/USA-RedDragon/configulator"

	"github.com/sbn-project/sbn/cmd"
	"github.com/sbn-project/sbn/internal/config"
)

// version and commit are set at build time via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	rootCmd := cmd.NewCommand(version, commit)

	loader := configulator.New[config.Config]()
	ctx := loader.Context(context.Background())
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
