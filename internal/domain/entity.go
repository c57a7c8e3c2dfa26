// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// DeviceState is the simulator lifecycle state as reported by simctl.
type DeviceState string

const (
	StateUnknown      DeviceState = "Unknown"
	StateShutdown     DeviceState = "Shutdown"
	StateBooting      DeviceState = "Booting"
	StateBooted       DeviceState = "Booted"
	StateShuttingDown DeviceState = "Shutting Down"
)

// Device represents one simulator device from the inventory.
// Derived, never persisted; rebuilt on every inventory query.
type Device struct {
	Name          string      `json:"name"`
	UDID          string      `json:"udid"`
	State         DeviceState `json:"state"`
	IsAvailable   bool        `json:"isAvailable"`
	Runtime       string      `json:"runtime"`
	IsPhoneFamily bool        `json:"isPhoneFamily"`
	// ModelNumber is a heuristic rank parsed from the device name
	// (first 1-2 digit token), used only for default-selection scoring.
	ModelNumber int `json:"modelNumber"`
}

// ContainerType identifies the kind of buildable root.
type ContainerType string

const (
	ContainerWorkspace ContainerType = "workspace"
	ContainerProject   ContainerType = "project"
)

// Container is the top-level buildable unit: a workspace aggregating
// multiple projects, or a single project.
type Container struct {
	Type ContainerType `json:"type"`
	Path string        `json:"path"`
}

// Stage names the pipeline step a failure occurred at.
type Stage string

const (
	StagePlatform   Stage = "platform"
	StageValidation Stage = "validation"
	StageContainer  Stage = "container"
	StageSchemes    Stage = "schemes"
	StageBuild      Stage = "build"
	StageApp        Stage = "app"
	StageBoot       Stage = "boot"
	StageBootStatus Stage = "bootstatus"
	StageBundleID   Stage = "bundle-id"
	StageInstall    Stage = "install"
	StageLaunch     Stage = "launch"
	StageCancelled  Stage = "cancelled"
	StageSimctl     Stage = "simctl"
	StageParse      Stage = "parse"
)

// CommandSpec describes one external command invocation.
type CommandSpec struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
	// TaskID, when it matches the active trackable task, makes the run
	// cancellable via TaskTracker.Cancel.
	TaskID string
}

// CommandResult captures the outcome of one external command.
type CommandResult struct {
	OK        bool   `json:"ok"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  *int   `json:"exitCode"`
	Err       string `json:"error,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// Output returns stdout and stderr joined, for substring diagnostics.
func (r CommandResult) Output() string {
	return r.Stdout + r.Stderr
}

// OutputDetails carries captured tool output on failures.
type OutputDetails struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// DeviceListResult is the structured outcome of an inventory query.
type DeviceListResult struct {
	OK       bool     `json:"ok"`
	Devices  []Device `json:"devices,omitempty"`
	BestUDID string   `json:"bestUdid,omitempty"`
	Stage    Stage    `json:"stage,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// SchemeListResult is the structured outcome of scheme resolution.
type SchemeListResult struct {
	OK            bool           `json:"ok"`
	Schemes       []string       `json:"schemes,omitempty"`
	DefaultScheme string         `json:"defaultScheme,omitempty"`
	Container     *Container     `json:"container,omitempty"`
	Stage         Stage          `json:"stage,omitempty"`
	Error         string         `json:"error,omitempty"`
	Details       *OutputDetails `json:"details,omitempty"`
}

// ContainerResult is the structured outcome of container detection.
type ContainerResult struct {
	OK        bool       `json:"ok"`
	Container *Container `json:"container,omitempty"`
	Stage     Stage      `json:"stage,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// BootResult is the structured outcome of a boot request.
type BootResult struct {
	OK        bool   `json:"ok"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunResult is the structured outcome of the build/install/launch pipeline
// and of boot-and-focus. On success Scheme/BundleID/AppPath are set; on
// failure Stage/Error plus optional Details and the derived-data path for
// post-mortem inspection.
type RunResult struct {
	OK              bool           `json:"ok"`
	Scheme          string         `json:"scheme,omitempty"`
	BundleID        string         `json:"bundleId,omitempty"`
	AppPath         string         `json:"appPath,omitempty"`
	Stage           Stage          `json:"stage,omitempty"`
	Error           string         `json:"error,omitempty"`
	Details         *OutputDetails `json:"details,omitempty"`
	DerivedDataPath string         `json:"derivedDataPath,omitempty"`
}

// CancelResult reports whether a cancel call affected anything.
type CancelResult struct {
	OK        bool `json:"ok"`
	Cancelled bool `json:"cancelled"`
}
