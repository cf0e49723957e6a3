package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xlat64/xlat64/common/go/logging"
	"github.com/xlat64/xlat64/common/go/xcmd"
	"github.com/xlat64/xlat64/controlplane/internal/version"
	"github.com/xlat64/xlat64/controlplane/nat64"
	"github.com/xlat64/xlat64/controlplane/siit"
)

// runner is the lifecycle every daemon module exposes.
type runner interface {
	Run(ctx context.Context) error
}

var cmdArgs struct {
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:     "xlat64d",
	Short:   "xlat64 SIIT/NAT64 translator daemon",
	Version: version.Version(),
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(cmdArgs.ConfigPath); err != nil {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return
			}
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmdArgs.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	var mod runner
	switch cfg.Build {
	case BuildNAT64:
		mod, err = nat64.NewModule(cfg.NAT64, log)
	case BuildSIIT:
		mod, err = siit.NewModule(cfg.SIIT, log)
	default:
		return fmt.Errorf("unreachable: config validation should have rejected build %q", cfg.Build)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s module: %w", cfg.Build, err)
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return mod.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}
