package infra

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/simrun/simrun/internal/domain"
)

// Device preference weights. A newer model wins within a family, any
// phone beats any non-phone, and an already-booted device beats a cold
// one of the same family.
const (
	phoneFamilyBonus = 1000
	bootedBonus      = 500
)

const phoneFamilyKeyword = "iphone"

// simctl JSON payload shapes (xcrun simctl list -j).
type simctlRuntime struct {
	Identifier        string `json:"identifier"`
	Name              string `json:"name"`
	Platform          string `json:"platform"`
	Version           string `json:"version"`
	IsAvailable       bool   `json:"isAvailable"`
	AvailabilityError string `json:"availabilityError"`
}

type simctlDevice struct {
	Name              string `json:"name"`
	UDID              string `json:"udid"`
	State             string `json:"state"`
	IsAvailable       bool   `json:"isAvailable"`
	AvailabilityError string `json:"availabilityError"`
}

type simctlList struct {
	Runtimes []simctlRuntime           `json:"runtimes"`
	Devices  map[string][]simctlDevice `json:"devices"`
}

// InventoryImpl implements domain.DeviceInventory over xcrun simctl.
type InventoryImpl struct {
	runner    domain.CommandRunner
	xcrunPath string
	cache     *ttlCache[domain.DeviceListResult]
	logger    *zap.Logger
}

// NewInventory creates a device inventory with a short-TTL result cache.
// The TTL absorbs bursts of near-simultaneous queries (a UI poller), not
// long-lived staleness; failures are cached for the same TTL so a
// flapping toolchain does not get hammered.
func NewInventory(runner domain.CommandRunner, xcrunPath string, ttl time.Duration, logger *zap.Logger) *InventoryImpl {
	return &InventoryImpl{
		runner:    runner,
		xcrunPath: xcrunPath,
		cache:     newTTLCache[domain.DeviceListResult](ttl),
		logger:    logger,
	}
}

// ListDevices returns relevant available devices sorted best-first.
func (i *InventoryImpl) ListDevices(ctx context.Context) domain.DeviceListResult {
	if cached, ok := i.cache.get("devices"); ok {
		return cached
	}
	result := i.query(ctx)
	i.cache.put("devices", result)
	return result
}

// ListBooted filters ListDevices to devices in the Booted state.
func (i *InventoryImpl) ListBooted(ctx context.Context) domain.DeviceListResult {
	result := i.ListDevices(ctx)
	if !result.OK {
		return result
	}
	booted := make([]domain.Device, 0, len(result.Devices))
	for _, d := range result.Devices {
		if d.State == domain.StateBooted {
			booted = append(booted, d)
		}
	}
	return domain.DeviceListResult{OK: true, Devices: booted}
}

// DeviceState reads one device's live state, bypassing the cache.
func (i *InventoryImpl) DeviceState(ctx context.Context, udid string) (domain.DeviceState, error) {
	list, err := i.fetch(ctx, "")
	if err != nil {
		return domain.StateUnknown, err
	}
	for _, bucket := range list.Devices {
		for _, d := range bucket {
			if d.UDID == udid {
				return domain.DeviceState(d.State), nil
			}
		}
	}
	return domain.StateUnknown, fmt.Errorf("device %s not in catalog", udid)
}

func (i *InventoryImpl) fetch(ctx context.Context, taskID string) (*simctlList, error) {
	res := i.runner.Run(ctx, domain.CommandSpec{
		Name:   i.xcrunPath,
		Args:   []string{"simctl", "list", "-j"},
		TaskID: taskID,
	})
	if res.Cancelled {
		return nil, errCancelled
	}
	if !res.OK {
		return nil, fmt.Errorf("simctl list failed: %s", firstNonEmpty(res.Err, res.Stderr))
	}
	var list simctlList
	if err := extractJSON(&list, res.Stdout, res.Stderr, res.Stdout+res.Stderr); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return &list, nil
}

func (i *InventoryImpl) query(ctx context.Context) domain.DeviceListResult {
	list, err := i.fetch(ctx, "")
	if err != nil {
		stage := domain.StageSimctl
		if err == errCancelled {
			stage = domain.StageCancelled
		} else if strings.HasPrefix(err.Error(), "parse:") {
			stage = domain.StageParse
		}
		i.logger.Warn("device inventory query failed", zap.Error(err))
		return domain.DeviceListResult{Stage: stage, Error: err.Error()}
	}

	devices := collectDevices(list)
	sort.SliceStable(devices, func(a, b int) bool {
		return deviceScore(devices[a]) > deviceScore(devices[b])
	})

	result := domain.DeviceListResult{OK: true, Devices: devices}
	if len(devices) > 0 {
		result.BestUDID = devices[0].UDID
	}
	return result
}

// collectDevices flattens the per-runtime buckets, keeping only devices
// on relevant, available runtimes. Runtime keys are walked in sorted
// order so the pre-scoring order is deterministic.
func collectDevices(list *simctlList) []domain.Device {
	runtimes := make(map[string]simctlRuntime, len(list.Runtimes))
	for _, rt := range list.Runtimes {
		runtimes[rt.Identifier] = rt
	}

	keys := make([]string, 0, len(list.Devices))
	for k := range list.Devices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var devices []domain.Device
	for _, key := range keys {
		rt, known := runtimes[key]
		if known {
			if !rt.IsAvailable || rt.AvailabilityError != "" || !runtimeRelevant(rt) {
				continue
			}
		} else if !strings.Contains(key, "iOS") {
			// runtime missing from the catalog; fall back to the id
			continue
		}
		for _, d := range list.Devices[key] {
			if d.UDID == "" || d.Name == "" {
				continue
			}
			if !d.IsAvailable || d.AvailabilityError != "" {
				continue
			}
			devices = append(devices, domain.Device{
				Name:          d.Name,
				UDID:          d.UDID,
				State:         domain.DeviceState(d.State),
				IsAvailable:   true,
				Runtime:       key,
				IsPhoneFamily: strings.HasPrefix(strings.ToLower(d.Name), phoneFamilyKeyword),
				ModelNumber:   parseModelNumber(d.Name),
			})
		}
	}
	return devices
}

// runtimeRelevant reports whether the runtime is the target mobile OS.
func runtimeRelevant(rt simctlRuntime) bool {
	return rt.Platform == "iOS" ||
		strings.Contains(rt.Name, "iOS") ||
		strings.Contains(rt.Identifier, "iOS")
}

// parseModelNumber extracts the first 1-2 digit run from a device name,
// e.g. "iPhone 15 Pro" -> 15. Returns 0 when no digits appear.
func parseModelNumber(name string) int {
	for i := 0; i < len(name); i++ {
		if !unicode.IsDigit(rune(name[i])) {
			continue
		}
		n := int(name[i] - '0')
		if i+1 < len(name) && unicode.IsDigit(rune(name[i+1])) {
			n = n*10 + int(name[i+1]-'0')
		}
		return n
	}
	return 0
}

// deviceScore ranks a device for the "best default" pick.
func deviceScore(d domain.Device) int {
	score := d.ModelNumber
	if d.IsPhoneFamily {
		score += phoneFamilyBonus
	}
	if d.State == domain.StateBooted {
		score += bootedBonus
	}
	return score
}

// Ensure InventoryImpl implements domain.DeviceInventory.
var _ domain.DeviceInventory = (*InventoryImpl)(nil)
