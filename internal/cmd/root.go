package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "shadpkg",
	Short: "Extract and decrypt PlayStation 4 package (PKG) files",
}

var (
	commonFlags pflag.FlagSet
	debug       = commonFlags.BoolP("debug", "d", false, "enable debug logging")
	logFile     = commonFlags.String("log-file", "", "also write logs to this file")
)

// Execute the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger builds the global zap logger the library logs through.
func setupLogger() {
	config := zap.NewDevelopmentConfig()
	if !*debug {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if *logFile != "" {
		os.Remove(*logFile)
		config.OutputPaths = append(config.OutputPaths, *logFile)
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, *logFile)
	}

	logger, err := config.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
}
