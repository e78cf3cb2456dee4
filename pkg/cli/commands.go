package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/layerforge/layerforge/internal/engine"
	"github.com/layerforge/layerforge/internal/state"
	"github.com/layerforge/layerforge/pkg/catalog"
	"github.com/layerforge/layerforge/pkg/compositor"
	"github.com/layerforge/layerforge/pkg/config"
	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/notifier"
	"github.com/layerforge/layerforge/pkg/process"
	"github.com/layerforge/layerforge/pkg/solver"
	"github.com/layerforge/layerforge/pkg/types"
	"github.com/layerforge/layerforge/pkg/utils"
)

func newGenerateCmd() *cobra.Command {
	var count int
	var outputDir string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a batch of unique artifacts",
		Long: `Generate composite artifacts from the configured trait catalog.
Every artifact satisfies the catalog's compatibility rules and the active
uniqueness groups; the run fails fast when the requested count exceeds
what the catalog can produce.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(count, outputDir)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of artifacts to generate")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default: from config)")
	cmd.MarkFlagRequired("count")

	return cmd
}

func newEstimateCmd() *cobra.Command {
	var budget int

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate how many unique artifacts the catalog admits",
		Long: `Enumerate the catalog's satisfiable trait combinations within a node
budget and report the feasibility ceiling the uniqueness groups impose.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(budget)
		},
	}

	cmd.Flags().IntVar(&budget, "budget", 0, "enumeration node budget (default: from config)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var skipAssets bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and asset catalog",
		Long:  `Check the configuration file, the layer catalog, and every referenced asset file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(skipAssets)
		},
	}

	cmd.Flags().BoolVar(&skipAssets, "skip-assets", false, "validate configuration only, not asset files")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recorded generation runs",
		Long:  `Display every recorded run for this project, including runs owned by other processes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func newInitCmd() *cobra.Command {
	var name string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new LayerForge configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(name, force)
		},
	}

	cmd.Flags().StringVar(&name, "name", "My Collection", "collection name")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of LayerForge",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("⚒ LayerForge v%s\n", version)
		},
	}
}

// Implementation functions

func runGenerate(count int, outputDir string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}
	log := makeLogger(cfg)

	layers, err := catalog.NewLoader(assetRoot(cfg), log).Load(cfg.Layers)
	if err != nil {
		return fmt.Errorf("failed to load catalog assets: %w", err)
	}

	if outputDir == "" {
		outputDir = cfg.OutputDir
		if outputDir == "" {
			outputDir = "output"
		}
	}
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(projectRoot, outputDir)
	}

	sink, err := utils.NewOutputSink(outputDir, cfg.Name, compositor.JSONMetadata, log)
	if err != nil {
		return err
	}

	req := config.Request(cfg, count)
	req.Layers = layers

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := engine.New(engine.Config{Settings: cfg.Generation, Logger: log})
	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop()

	handle, err := orch.Submit(req)
	if err != nil {
		return err
	}

	runs := state.NewManager(projectRoot, log)
	if _, err := runs.InitializeRun(handle.ID, count, outputDir); err != nil {
		log.Warn("failed to record run state", logger.WithField("error", err))
	}
	runs.StartHeartbeat(ctx)
	defer runs.Cleanup()

	procs := process.NewManager(log)
	procs.RegisterShutdownHandler(func() {
		orch.Cancel(handle.ID)
	})
	procs.Start(ctx)

	notify := notifier.New(notifier.FromProjectConfig(cfg.Notify), log)
	notify.NotifyRunStart(cfg.Name, count)
	printInfo(fmt.Sprintf("Generating %d artifacts into %s", count, outputDir))

	result, err := drainRun(ctx, handle, sink, runs, log)
	if err != nil {
		return err
	}

	if err := runs.CompleteRun(handle.ID, result); err != nil {
		log.Warn("failed to record run result", logger.WithField("error", err))
	}
	notify.NotifyRunResult(cfg.Name, result)

	switch result.Status {
	case types.RunStatusCompleted:
		printSuccess(fmt.Sprintf("Generated %d artifacts in %s (%s)",
			result.Generated, outputDir, result.Duration.Round(time.Millisecond)))
		return nil
	case types.RunStatusCancelled:
		printInfo(fmt.Sprintf("Cancelled after %d of %d artifacts", result.Generated, result.Requested))
		return nil
	default:
		printError(result.Err)
		return fmt.Errorf("generation failed: %s", result.Err)
	}
}

// drainRun consumes the task's message stream, persisting artifacts as
// they arrive and mirroring progress into the run state file.
func drainRun(ctx context.Context, handle *engine.TaskHandle, sink *utils.OutputSink, runs *state.Manager, log logger.Logger) (*types.RunResult, error) {
	for {
		select {
		case msg, ok := <-handle.Messages:
			if !ok {
				return nil, fmt.Errorf("run %s ended without a result", handle.ID)
			}
			switch msg.Kind {
			case types.MessageKindArtifact, types.MessageKindChunk:
				if err := sink.WriteAll(msg.Artifacts); err != nil {
					return nil, err
				}
			case types.MessageKindProgress:
				if msg.Progress != nil {
					if err := runs.UpdateProgress(handle.ID, msg.Progress.Generated); err != nil {
						log.Debug("progress update failed", logger.WithField("error", err))
					}
				}
			case types.MessageKindResult:
				return msg.Result, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func runEstimate(budget int) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}
	log := makeLogger(cfg)

	if budget <= 0 {
		budget = cfg.Generation.GetFeasibilityBudget()
	}

	estimate := solver.New(cfg.Layers, log).Estimate(cfg.Groups, budget)

	exactness := "exact"
	if !estimate.Exact {
		exactness = fmt.Sprintf("budget of %d nodes exceeded, lower bound", budget)
	}

	if estimate.Exact && estimate.Satisfiable == 0 {
		printError("No satisfiable trait combination exists under the current rules")
		return fmt.Errorf("catalog admits zero combinations")
	}

	printInfo(fmt.Sprintf("Satisfiable combinations: %d (%s)", estimate.Satisfiable, exactness))
	if estimate.Ceiling == math.MaxInt {
		printInfo("Unique-artifact ceiling: unbounded (no active uniqueness group caps the run)")
	} else {
		printInfo(fmt.Sprintf("Unique-artifact ceiling: %d", estimate.Ceiling))
	}
	return nil
}

func runValidate(skipAssets bool) error {
	cfg, err := loadProject()
	if err != nil {
		printError(err.Error())
		return err
	}
	printSuccess("Configuration is valid")

	if skipAssets {
		return nil
	}

	log := makeLogger(cfg)
	if err := catalog.NewLoader(assetRoot(cfg), log).Validate(cfg.Layers); err != nil {
		printError(err.Error())
		return err
	}

	traits := 0
	for i := range cfg.Layers {
		traits += len(cfg.Layers[i].Traits)
	}
	printSuccess(fmt.Sprintf("All %d assets across %d layers are readable and decodable", traits, len(cfg.Layers)))
	return nil
}

func runStatus() error {
	log := logger.CreateLoggerWithOutput("", verbosity, nil)
	runs, err := state.NewManager(projectRoot, log).DiscoverRuns()
	if err != nil {
		return fmt.Errorf("failed to discover runs: %w", err)
	}
	if len(runs) == 0 {
		printInfo("No recorded runs")
		return nil
	}

	ids := make([]string, 0, len(runs))
	for id := range runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return runs[ids[i]].StartedAt.Before(runs[ids[j]].StartedAt)
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tPROGRESS\tSTARTED\tOUTPUT")
	fmt.Fprintln(w, "---\t------\t--------\t-------\t------")

	for _, id := range ids {
		run := runs[id]

		statusText := string(run.Status)
		switch run.Status {
		case types.RunStatusCompleted:
			statusText = color.GreenString(statusText)
		case types.RunStatusFailed:
			statusText = color.RedString(statusText)
		case types.RunStatusRunning, types.RunStatusValidating:
			if run.Active() && process.IsAlive(run.ProcessID) {
				statusText = color.YellowString(statusText)
			} else {
				statusText = color.RedString("stale")
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			shortID(id),
			statusText,
			run.Generated,
			run.Requested,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.OutputDir,
		)
	}

	return w.Flush()
}

func runInit(name string, force bool) error {
	configPath := filepath.Join(projectRoot, "layerforge.config.json")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration already exists, use --force to overwrite")
	}

	cfg := config.NewManager().GetDefaultConfig(name)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	printSuccess(fmt.Sprintf("Created %s", configPath))
	printInfo("Add layers and traits, then run 'layerforge validate'")
	return nil
}

// Helpers

func loadProject() (*types.ProjectConfig, error) {
	mgr := config.NewManager()
	path := cfgFile
	if path == "" {
		var err error
		path, err = mgr.FindConfig(projectRoot)
		if err != nil {
			return nil, err
		}
	}
	return mgr.LoadConfig(path)
}

func makeLogger(cfg *types.ProjectConfig) logger.Logger {
	file := ""
	level := verbosity
	if cfg.Logging != nil {
		file = cfg.Logging.File
		if cfg.Logging.Level != "" && verbosity == "info" {
			level = string(cfg.Logging.Level)
		}
	}
	return logger.CreateLogger(file, level)
}

func assetRoot(cfg *types.ProjectConfig) string {
	root := cfg.AssetRoot
	if root == "" {
		root = "assets"
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(projectRoot, root)
	}
	return root
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
