package usecase

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simrun/simrun/internal/config"
	"github.com/simrun/simrun/internal/domain"
)

// Orchestrator composes inventory, discovery, boot and the runner into
// the public build/install/launch operations. It owns the process-wide
// mutable state (task tracker, caches live inside the sub-components) so
// tests can instantiate a fresh one per case.
type Orchestrator struct {
	cfg        config.Config
	runner     domain.CommandRunner
	tracker    domain.TaskTracker
	inventory  domain.DeviceInventory
	finder     domain.ContainerFinder
	resolver   domain.SchemeResolver
	boot       domain.BootController
	quarantine *Quarantine
	logger     *zap.Logger
	goos       string
}

// NewOrchestrator wires the orchestrator from its collaborators.
func NewOrchestrator(
	cfg config.Config,
	runner domain.CommandRunner,
	tracker domain.TaskTracker,
	inventory domain.DeviceInventory,
	finder domain.ContainerFinder,
	resolver domain.SchemeResolver,
	boot domain.BootController,
	quarantine *Quarantine,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		runner:     runner,
		tracker:    tracker,
		inventory:  inventory,
		finder:     finder,
		resolver:   resolver,
		boot:       boot,
		quarantine: quarantine,
		logger:     logger,
		goos:       runtime.GOOS,
	}
}

// platformOK gates every public operation on macOS; no external tool is
// touched on other systems.
func (o *Orchestrator) platformOK() bool {
	return o.goos == "darwin"
}

const platformError = "simulator orchestration requires macOS"

// ListDevices returns the relevant simulator devices, best first.
func (o *Orchestrator) ListDevices(ctx context.Context) domain.DeviceListResult {
	if !o.platformOK() {
		return domain.DeviceListResult{Stage: domain.StagePlatform, Error: platformError}
	}
	return o.inventory.ListDevices(ctx)
}

// ListBooted returns only devices currently in the Booted state.
func (o *Orchestrator) ListBooted(ctx context.Context) domain.DeviceListResult {
	if !o.platformOK() {
		return domain.DeviceListResult{Stage: domain.StagePlatform, Error: platformError}
	}
	return o.inventory.ListBooted(ctx)
}

// DetectContainer locates the buildable container under rootPath.
func (o *Orchestrator) DetectContainer(rootPath string) domain.ContainerResult {
	if !o.platformOK() {
		return domain.ContainerResult{Stage: domain.StagePlatform, Error: platformError}
	}
	c := o.finder.Find(rootPath)
	if c == nil {
		return domain.ContainerResult{
			Stage: domain.StageContainer,
			Error: fmt.Sprintf("no workspace or project found under %s", rootPath),
		}
	}
	return domain.ContainerResult{OK: true, Container: c}
}

// ListSchemes lists build schemes for rootPath with a default pick.
func (o *Orchestrator) ListSchemes(ctx context.Context, rootPath string) domain.SchemeListResult {
	if !o.platformOK() {
		return domain.SchemeListResult{Stage: domain.StagePlatform, Error: platformError}
	}
	return o.resolver.ListSchemes(ctx, rootPath)
}

// CancelActiveTask requests cancellation of the trackable task and kills
// its in-flight command if any.
func (o *Orchestrator) CancelActiveTask() domain.CancelResult {
	return domain.CancelResult{OK: true, Cancelled: o.tracker.Cancel()}
}

// BootAndFocus boots the device, waits for it, and brings the Simulator
// app to the foreground.
func (o *Orchestrator) BootAndFocus(ctx context.Context, udid string) domain.RunResult {
	if !o.platformOK() {
		return domain.RunResult{Stage: domain.StagePlatform, Error: platformError}
	}
	if udid == "" {
		return domain.RunResult{Stage: domain.StageValidation, Error: "udid is required"}
	}

	taskID := o.tracker.StartTask()
	defer o.tracker.FinishTask(taskID)

	res := o.boot.Boot(ctx, udid, taskID)
	if res.Cancelled {
		return domain.RunResult{Stage: domain.StageCancelled, Error: "cancelled"}
	}
	if !res.OK {
		return domain.RunResult{Stage: domain.StageBoot, Error: res.Error}
	}
	if !o.boot.WaitUntilBooted(ctx, udid, taskID, o.cfg.Timeouts.BootWait, o.cfg.Timeouts.BootPoll) {
		if o.tracker.CancelRequested(taskID) {
			return domain.RunResult{Stage: domain.StageCancelled, Error: "cancelled"}
		}
		return domain.RunResult{Stage: domain.StageBootStatus, Error: "device did not finish booting"}
	}

	// focus is cosmetic, the boot already succeeded
	_ = o.runner.Run(ctx, domain.CommandSpec{Name: o.cfg.Tools.Open, Args: []string{"-a", "Simulator"}})

	return domain.RunResult{OK: true}
}

// stageClock records per-stage durations for the summary log line.
type stageClock struct {
	names  []string
	durs   []time.Duration
	marked time.Time
}

func newStageClock() *stageClock {
	return &stageClock{marked: time.Now()}
}

func (c *stageClock) mark(stage string) {
	now := time.Now()
	c.names = append(c.names, stage)
	c.durs = append(c.durs, now.Sub(c.marked))
	c.marked = now
}

func (c *stageClock) summary() string {
	parts := make([]string, len(c.names))
	for i, n := range c.names {
		parts[i] = fmt.Sprintf("%s=%s", n, c.durs[i].Round(time.Millisecond))
	}
	return strings.Join(parts, " ")
}

// BuildAndRun compiles the app for rootPath, installs it on the device
// and launches it. scheme may be empty, in which case the resolver's
// default pick is used.
func (o *Orchestrator) BuildAndRun(ctx context.Context, rootPath, udid, scheme string) domain.RunResult {
	clock := newStageClock()
	result := o.buildAndRun(ctx, rootPath, udid, scheme, clock)
	o.logger.Info("pipeline finished",
		zap.Bool("ok", result.OK),
		zap.String("stage", string(result.Stage)),
		zap.String("timings", clock.summary()))
	return result
}

func (o *Orchestrator) buildAndRun(ctx context.Context, rootPath, udid, scheme string, clock *stageClock) domain.RunResult {
	// 1. validation
	if !o.platformOK() {
		return domain.RunResult{Stage: domain.StagePlatform, Error: platformError}
	}
	if rootPath == "" || udid == "" {
		return domain.RunResult{Stage: domain.StageValidation, Error: "rootPath and udid are required"}
	}
	if info, err := os.Stat(rootPath); err != nil || !info.IsDir() {
		return domain.RunResult{
			Stage: domain.StageValidation,
			Error: fmt.Sprintf("%s is not an existing directory", rootPath),
		}
	}
	clock.mark("validation")

	taskID := o.tracker.StartTask()
	defer o.tracker.FinishTask(taskID)

	// 2. container + scheme
	var container *domain.Container
	if scheme != "" {
		container = o.finder.Find(rootPath)
		if container == nil {
			return domain.RunResult{
				Stage: domain.StageContainer,
				Error: fmt.Sprintf("no workspace or project found under %s", rootPath),
			}
		}
	} else {
		listed := o.resolver.ListSchemes(ctx, rootPath)
		if !listed.OK {
			return domain.RunResult{
				Stage:   listed.Stage,
				Error:   listed.Error,
				Details: listed.Details,
			}
		}
		if listed.DefaultScheme == "" {
			return domain.RunResult{
				Stage: domain.StageSchemes,
				Error: fmt.Sprintf("no default scheme among %v; pick one explicitly", listed.Schemes),
			}
		}
		scheme = listed.DefaultScheme
		container = listed.Container
	}
	clock.mark("schemes")

	// 3. workspace directories
	derivedData := filepath.Join(o.cfg.Run.TempRoot, "derived", slug(filepath.Base(rootPath)))
	runID := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	runDir := filepath.Join(o.cfg.Run.TempRoot, "runs", runID)
	for _, dir := range []string{derivedData, runDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.RunResult{
				Stage: domain.StageBuild,
				Error: fmt.Sprintf("cannot create %s: %v", dir, err),
			}
		}
	}

	fail := func(r domain.RunResult) domain.RunResult {
		r.DerivedDataPath = derivedData
		o.quarantine.Keep(runDir)
		return r
	}

	// 4. boot and build run concurrently; boot never blocks compilation
	bootCh := make(chan domain.BootResult, 1)
	go func() {
		bootCh <- o.boot.Boot(ctx, udid, taskID)
	}()

	flag := "-project"
	if container.Type == domain.ContainerWorkspace {
		flag = "-workspace"
	}
	build := o.runner.Run(ctx, domain.CommandSpec{
		Name: o.cfg.Tools.Xcodebuild,
		Args: []string{
			flag, container.Path,
			"-scheme", scheme,
			"-configuration", "Debug",
			"-destination", "generic/platform=iOS Simulator",
			"-derivedDataPath", derivedData,
			"CODE_SIGNING_ALLOWED=NO",
			"CODE_SIGNING_REQUIRED=NO",
			"COMPILER_INDEX_STORE_ENABLE=NO",
			"build",
		},
		Dir:     rootPath,
		Timeout: o.cfg.Timeouts.Build,
		TaskID:  taskID,
	})

	// build log is kept regardless of outcome
	logBody := "=== stdout ===\n" + build.Stdout + "\n=== stderr ===\n" + build.Stderr + "\n"
	if err := os.WriteFile(filepath.Join(runDir, "build.log"), []byte(logBody), 0o644); err != nil {
		o.logger.Warn("cannot persist build log", zap.Error(err))
	}
	clock.mark("build")

	if !build.OK {
		stage := domain.StageBuild
		errMsg := firstNonEmpty(build.Err, "build failed")
		if build.Cancelled {
			stage = domain.StageCancelled
			errMsg = "cancelled"
		}
		return fail(domain.RunResult{
			Stage:   stage,
			Error:   errMsg,
			Details: &domain.OutputDetails{Stdout: build.Stdout, Stderr: build.Stderr},
		})
	}

	// 5. locate the built artifact
	appPath := findArtifact(derivedData, scheme)
	if appPath == "" {
		return fail(domain.RunResult{
			Stage: domain.StageApp,
			Error: "no .app bundle under derived data; check scheme and destination",
		})
	}
	// quarantine parity: a failed later stage keeps the artifact too
	_ = copyTree(appPath, filepath.Join(runDir, filepath.Base(appPath)))
	clock.mark("app")

	// 6. boot joins only after the artifact is confirmed
	bootRes := <-bootCh
	if bootRes.Cancelled {
		return fail(domain.RunResult{Stage: domain.StageCancelled, Error: "cancelled"})
	}
	if !bootRes.OK {
		return fail(domain.RunResult{Stage: domain.StageBoot, Error: bootRes.Error})
	}
	if !o.boot.WaitUntilBooted(ctx, udid, taskID, o.cfg.Timeouts.BootWait, o.cfg.Timeouts.BootPoll) {
		if o.tracker.CancelRequested(taskID) {
			return fail(domain.RunResult{Stage: domain.StageCancelled, Error: "cancelled"})
		}
		return fail(domain.RunResult{Stage: domain.StageBootStatus, Error: "device did not finish booting"})
	}
	clock.mark("boot")

	// 7. bundle identity
	bundleID := o.readPlistKey(ctx, appPath, "CFBundleIdentifier")
	execName := o.readPlistKey(ctx, appPath, "CFBundleExecutable")
	if bundleID == "" || execName == "" {
		return fail(domain.RunResult{
			Stage: domain.StageBundleID,
			Error: fmt.Sprintf("cannot read bundle identity from %s", appPath),
		})
	}
	clock.mark("bundle-id")

	// 8. install or patch in place
	if err := o.installOrPatch(ctx, udid, bundleID, execName, appPath, taskID); err != nil {
		if o.tracker.CancelRequested(taskID) {
			return fail(domain.RunResult{Stage: domain.StageCancelled, Error: "cancelled"})
		}
		return fail(domain.RunResult{Stage: domain.StageInstall, Error: err.Error()})
	}
	clock.mark("install")

	// 9. launch
	launch := o.runner.Run(ctx, domain.CommandSpec{
		Name:   o.cfg.Tools.Xcrun,
		Args:   []string{"simctl", "launch", udid, bundleID},
		TaskID: taskID,
	})
	if !launch.OK {
		if launch.Cancelled {
			return fail(domain.RunResult{Stage: domain.StageCancelled, Error: "cancelled"})
		}
		return fail(domain.RunResult{
			Stage: domain.StageLaunch,
			Error: firstNonEmpty(launch.Err, launch.Stderr, "launch failed"),
		})
	}
	clock.mark("launch")

	// 10. success: the run artifacts are no longer needed
	_ = os.RemoveAll(runDir)

	return domain.RunResult{OK: true, Scheme: scheme, BundleID: bundleID, AppPath: appPath}
}

// readPlistKey reads one key from the bundle's Info.plist via PlistBuddy.
func (o *Orchestrator) readPlistKey(ctx context.Context, appPath, key string) string {
	res := o.runner.Run(ctx, domain.CommandSpec{
		Name: o.cfg.Tools.PlistBuddy,
		Args: []string{"-c", "Print :" + key, filepath.Join(appPath, "Info.plist")},
	})
	if !res.OK {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// installOrPatch installs the bundle, preferring an in-place binary copy
// when the same bundle id is already installed. That optimizes the common
// "same bundle id, rebuilt executable" loop without reinstalling the
// whole bundle each time.
func (o *Orchestrator) installOrPatch(ctx context.Context, udid, bundleID, execName, appPath, taskID string) error {
	fullInstall := func() error {
		res := o.runner.Run(ctx, domain.CommandSpec{
			Name:   o.cfg.Tools.Xcrun,
			Args:   []string{"simctl", "install", udid, appPath},
			TaskID: taskID,
		})
		if !res.OK {
			return fmt.Errorf("install failed: %s", firstNonEmpty(res.Err, res.Stderr, res.Stdout))
		}
		return nil
	}

	res := o.runner.Run(ctx, domain.CommandSpec{
		Name:   o.cfg.Tools.Xcrun,
		Args:   []string{"simctl", "get_app_container", udid, bundleID, "app"},
		TaskID: taskID,
	})
	if !res.OK {
		return fullInstall() // not installed yet
	}

	installedPath := strings.TrimSpace(res.Stdout)
	installedExe := filepath.Join(installedPath, execName)
	if _, err := os.Stat(installedExe); err != nil {
		// executable cannot be confirmed, do the full install
		return fullInstall()
	}

	if err := copyFile(filepath.Join(appPath, execName), installedExe); err != nil {
		o.logger.Debug("in-place patch failed, falling back to install", zap.Error(err))
		return fullInstall()
	}
	o.logger.Debug("patched installed executable in place",
		zap.String("bundleId", bundleID))
	return nil
}

// findArtifact searches the standard simulator product directories for
// the built bundle, preferring an exact scheme match.
func findArtifact(derivedData, scheme string) string {
	for _, cfg := range []string{"Debug-iphonesimulator", "Release-iphonesimulator"} {
		dir := filepath.Join(derivedData, "Build", "Products", cfg)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var apps []string
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".app") {
				apps = append(apps, e.Name())
			}
		}
		if len(apps) == 0 {
			continue
		}
		sort.Strings(apps) // deterministic regardless of readdir order
		for _, a := range apps {
			if a == scheme+".app" {
				return filepath.Join(dir, a)
			}
		}
		return filepath.Join(dir, apps[0])
	}
	return ""
}

// slug reduces a directory name to a stable lowercase token for the
// per-project derived-data path.
func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else if b.Len() > 0 && b.String()[b.Len()-1] != '-' {
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// firstNonEmpty returns the first non-blank diagnostic string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// copyFile copies src over dst, preserving an executable mode.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyTree recursively copies a directory.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
