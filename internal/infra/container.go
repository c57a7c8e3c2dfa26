package infra

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simrun/simrun/internal/domain"
)

const (
	workspaceSuffix = ".xcworkspace"
	projectSuffix   = ".xcodeproj"

	// maxScanDepth bounds the directory walk below the root.
	maxScanDepth = 3
)

// Container preference weights.
const (
	workspaceBonus  = 1000
	nameMatchBonus  = 200
	iosSegmentBonus = 100
	depthStepBonus  = 10
)

// ignoredDirs are never descended into: VCS metadata, dependency and
// build output, IDE state.
var ignoredDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"Pods":         true,
	"Carthage":     true,
	"DerivedData":  true,
	"build":        true,
	".build":       true,
	".idea":        true,
	".vscode":      true,
	"vendor":       true,
	"dist":         true,
	"out":          true,
}

// containerCandidate records a container found during the walk.
type containerCandidate struct {
	container domain.Container
	depth     int
	score     int
}

// FinderImpl implements domain.ContainerFinder with a bounded-depth scan
// and a long-TTL cache. Negative results are cached too, so repeated
// lookups in large container-less trees stay cheap.
type FinderImpl struct {
	cache  *ttlCache[*domain.Container]
	logger *zap.Logger
}

// NewFinder creates a container finder.
func NewFinder(ttl time.Duration, logger *zap.Logger) *FinderImpl {
	return &FinderImpl{
		cache:  newTTLCache[*domain.Container](ttl),
		logger: logger,
	}
}

// Find returns the best container under rootPath, or nil if none.
func (f *FinderImpl) Find(rootPath string) *domain.Container {
	if cached, ok := f.cache.get(rootPath); ok {
		return cached
	}
	found := f.scan(rootPath)
	f.cache.put(rootPath, found)
	return found
}

func (f *FinderImpl) scan(rootPath string) *domain.Container {
	// The root itself may already be the container.
	if t, ok := containerType(filepath.Base(rootPath)); ok {
		return &domain.Container{Type: t, Path: rootPath}
	}

	rootName := normalizeName(filepath.Base(rootPath))
	var candidates []containerCandidate

	type frame struct {
		path  string
		depth int
	}
	stack := []frame{{rootPath, 0}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(cur.path)
		if err != nil {
			continue // unreadable subtree, skip
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			if ignoredDirs[name] {
				continue
			}
			full := filepath.Join(cur.path, name)
			if t, ok := containerType(name); ok {
				depth := cur.depth + 1
				c := domain.Container{Type: t, Path: full}
				candidates = append(candidates, containerCandidate{
					container: c,
					depth:     depth,
					score:     containerScore(c, depth, rootName),
				})
				continue // never descend into a container bundle
			}
			if cur.depth+1 < maxScanDepth {
				stack = append(stack, frame{full, cur.depth + 1})
			}
		}
	}

	if len(candidates) == 0 {
		f.logger.Debug("no container found", zap.String("root", rootPath))
		return nil
	}

	// Deterministic regardless of filesystem enumeration order.
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		if candidates[a].depth != candidates[b].depth {
			return candidates[a].depth < candidates[b].depth
		}
		return candidates[a].container.Path < candidates[b].container.Path
	})

	best := candidates[0].container
	f.logger.Debug("container selected",
		zap.String("type", string(best.Type)),
		zap.String("path", best.Path))
	return &best
}

// containerType classifies a directory name by its container suffix.
func containerType(name string) (domain.ContainerType, bool) {
	switch {
	case strings.HasSuffix(name, workspaceSuffix):
		return domain.ContainerWorkspace, true
	case strings.HasSuffix(name, projectSuffix):
		return domain.ContainerProject, true
	default:
		return "", false
	}
}

// containerScore ranks a candidate. Workspaces beat projects, a name
// matching the root directory beats a stranger, an ios/ subtree beats a
// shared one, and shallower beats deeper.
func containerScore(c domain.Container, depth int, rootName string) int {
	score := 0
	if c.Type == domain.ContainerWorkspace {
		score += workspaceBonus
	}
	if normalizeName(filepath.Base(c.Path)) == rootName && rootName != "" {
		score += nameMatchBonus
	}
	for _, seg := range strings.Split(filepath.ToSlash(c.Path), "/") {
		if seg == "ios" {
			score += iosSegmentBonus
			break
		}
	}
	score += (maxScanDepth - depth) * depthStepBonus
	return score
}

// normalizeName strips the container suffix and reduces the name to
// lowercase alphanumerics, for fuzzy-exact comparisons.
func normalizeName(name string) string {
	name = strings.TrimSuffix(name, workspaceSuffix)
	name = strings.TrimSuffix(name, projectSuffix)
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Ensure FinderImpl implements domain.ContainerFinder.
var _ domain.ContainerFinder = (*FinderImpl)(nil)
