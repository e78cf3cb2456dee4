package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/layerforge/layerforge/pkg/catalog"
	"github.com/layerforge/layerforge/pkg/config"
	"github.com/layerforge/layerforge/pkg/process"
	"github.com/layerforge/layerforge/pkg/types"
)

func newWatchCmd() *cobra.Command {
	var skipAssets bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the configuration and re-validate on change",
		Long: `Watch the project configuration file and re-run validation whenever it
changes. Useful while editing a trait catalog: every save immediately
reports rule or asset problems.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(skipAssets)
		},
	}

	cmd.Flags().BoolVar(&skipAssets, "skip-assets", false, "validate configuration only, not asset files")
	return cmd
}

func runWatch(skipAssets bool) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}
	log := makeLogger(cfg)

	path := cfgFile
	if path == "" {
		if path, err = config.NewManager().FindConfig(projectRoot); err != nil {
			return err
		}
	}

	revalidate := func(next *types.ProjectConfig, loadErr error) {
		if loadErr != nil {
			printError(fmt.Sprintf("configuration invalid: %v", loadErr))
			return
		}
		if !skipAssets {
			if err := catalog.NewLoader(assetRoot(next), log).Validate(next.Layers); err != nil {
				printError(fmt.Sprintf("asset validation failed: %v", err))
				return
			}
		}
		printSuccess("Configuration and catalog are valid")
	}

	reload := config.NewReloadManager(path, log)
	reload.AddCallback(revalidate)
	if err := reload.StartWatching(); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	defer reload.StopWatching()

	// Report the starting state before the first change arrives.
	revalidate(cfg, nil)
	printInfo(fmt.Sprintf("Watching %s (ctrl-c to stop)", path))

	ctx, cancel := context.WithCancel(context.Background())
	procs := process.NewManager(log)
	procs.RegisterShutdownHandler(cancel)
	procs.Start(ctx)

	<-ctx.Done()
	printInfo("Watch stopped")
	return nil
}
