package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/ai-research/app"
	"github.com/sweetpotato0/ai-research/config"
)

func main() {
	var cfgPath string
	var root = &cobra.Command{
		Use:           "ai-research",
		Short:         "Iterative web and document research assistant",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")

	load := func() (*config.Config, error) { return config.Load(cfgPath) }
	root.AddCommand(serveCMD(load), askCMD(load), batchCMD(load))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type loader func() (*config.Config, error)
