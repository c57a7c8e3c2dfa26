// Package main is the CLI entry point for simrun.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simrun/simrun/internal/config"
	"github.com/simrun/simrun/internal/infra"
	"github.com/simrun/simrun/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "simrun",
	Short: "Build, install and launch apps on the iOS simulator",
	Long: `simrun orchestrates the simulator toolchain: it discovers the
workspace or project under a directory, resolves a build scheme, boots a
target simulator, compiles the app, installs it and launches it.

Every command prints a structured JSON result; the exit code is 0 only
when the operation succeeded.`,
	Version: Version,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List relevant simulator devices, best candidate first",
	RunE:  runDevices,
}

var bootedCmd = &cobra.Command{
	Use:   "booted",
	Short: "List simulator devices currently booted",
	RunE:  runBooted,
}

var detectCmd = &cobra.Command{
	Use:   "detect <root>",
	Short: "Detect the buildable workspace or project under a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

var schemesCmd = &cobra.Command{
	Use:   "schemes <root>",
	Short: "List build schemes and the default pick",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemes,
}

var bootCmd = &cobra.Command{
	Use:   "boot <udid>",
	Short: "Boot a simulator and bring it to the foreground",
	Args:  cobra.ExactArgs(1),
	RunE:  runBoot,
}

var runCmd = &cobra.Command{
	Use:   "run <root> <udid>",
	Short: "Build the app, install it on the simulator and launch it",
	Args:  cobra.ExactArgs(2),
	RunE:  runBuildAndRun,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the active build or boot task",
	Long: `Cancellation acts on the task tracker of the calling process: it is
meaningful for a long-lived embedder (an IPC layer) driving run and
cancel through one orchestrator. A standalone invocation starts with no
active task and always reports cancelled: false.`,
	RunE: runCancel,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	schemeFlag  string
	jsonVersion bool
)

func init() {
	runCmd.Flags().StringVar(&schemeFlag, "scheme", "", "Build scheme (default: resolver's pick)")
	versionCmd.Flags().BoolVar(&jsonVersion, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(bootedCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(schemesCmd)
	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildOrchestrator assembles the component graph from configuration.
func buildOrchestrator() (*usecase.Orchestrator, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := createLogger(cfg.Log.Level)

	tracker := infra.NewTaskTracker(logger)
	runner := infra.NewRunner(tracker, logger)
	inventory := infra.NewInventory(runner, cfg.Tools.Xcrun, cfg.Cache.DevicesTTL, logger)
	finder := infra.NewFinder(cfg.Cache.ContainerTTL, logger)
	resolver := infra.NewResolver(runner, finder, cfg.Tools.Xcodebuild,
		cfg.Timeouts.SchemeList, cfg.Cache.SchemesTTL, logger)
	boot := infra.NewBootController(runner, inventory, tracker, cfg.Tools.Xcrun, logger)
	quarantine := usecase.NewQuarantine(cfg.Run.TempRoot, cfg.Run.FailureRetention, logger)

	orch := usecase.NewOrchestrator(cfg, runner, tracker, inventory, finder,
		resolver, boot, quarantine, logger)
	return orch, logger, nil
}

// emit prints the result as JSON and maps failure onto the exit code.
func emit(result any, ok bool) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !ok {
		os.Exit(1)
	}
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	orch, logger, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	res := orch.ListDevices(context.Background())
	return emit(res, res.OK)
}

func runBooted(cmd *cobra.Command, args []string) error {
	orch, logger, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	res := orch.ListBooted(context.Background())
	return emit(res, res.OK)
}

func runDetect(cmd *cobra.Command, args []string) error {
	orch, logger, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	res := orch.DetectContainer(args[0])
	return emit(res, res.OK)
}

func runSchemes(cmd *cobra.Command, args []string) error {
	orch, logger, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	res := orch.ListSchemes(context.Background(), args[0])
	return emit(res, res.OK)
}

func runBoot(cmd *cobra.Command, args []string) error {
	orch, logger, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	res := orch.BootAndFocus(context.Background(), args[0])
	return emit(res, res.OK)
}

func runBuildAndRun(cmd *cobra.Command, args []string) error {
	orch, logger, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	res := orch.BuildAndRun(context.Background(), args[0], args[1], schemeFlag)
	return emit(res, res.OK)
}

func runCancel(cmd *cobra.Command, args []string) error {
	orch, logger, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	res := orch.CancelActiveTask()
	return emit(res, res.OK)
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonVersion {
		out, _ := json.Marshal(map[string]string{
			"version":   Version,
			"commit":    Commit,
			"buildTime": BuildTime,
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("simrun %s (commit %s, built %s)\n", Version, Commit, BuildTime)
}

func createLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
