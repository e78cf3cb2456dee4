// Package cli provides the command-line interface for LayerForge
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	projectRoot string
	verbosity   string
	version     string
)

var rootCmd = &cobra.Command{
	Use:   "layerforge",
	Short: "Constraint-driven generative artwork engine",
	Long: `⚒ LayerForge - Batch generation of unique layered artwork

LayerForge composes trait catalogs into collections of unique composite
images. A constraint solver picks compatible trait combinations, a
uniqueness tracker keeps every artifact distinct, and a worker pool
renders the results.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("⚒ LayerForge v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v
	initializeRootCommand()
	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags. Explicit
// initialization keeps command wiring testable.
func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: layerforge.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newEstimateCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(projectRoot)
		viper.SetConfigName("layerforge.config")
		viper.SetConfigType("json")
	}

	viper.SetEnvPrefix("LAYERFORGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// Helper functions

func printSuccess(message string) {
	fmt.Printf("⚒ %s %s\n", color.GreenString("[LayerForge]"), message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "⚒ %s %s\n", color.RedString("[LayerForge]"), message)
}

func printInfo(message string) {
	fmt.Printf("⚒ %s %s\n", color.CyanString("[LayerForge]"), message)
}
