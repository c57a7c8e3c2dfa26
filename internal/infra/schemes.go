package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/simrun/simrun/internal/domain"
)

const schemeSuffix = ".xcscheme"

// schemeWeights parameterizes the default-scheme heuristic so its
// decision boundaries are directly testable.
type schemeWeights struct {
	hintExact    int
	schemePrefix int
	hintPrefix   int
	appName      int
	sample       int
	testScheme   int
	minScore     int
	minLead      int
}

var defaultSchemeWeights = schemeWeights{
	hintExact:    120,
	schemePrefix: 20,
	hintPrefix:   40,
	appName:      10,
	sample:       25,
	testScheme:   200,
	minScore:     80,
	minLead:      15,
}

// sampleSchemeRe flags sample/demo/example schemes.
var sampleSchemeRe = regexp.MustCompile(`(?i)(sample|demo|example)`)

// testSuffixes are checked against the lowercased scheme name.
var testSuffixes = []string{"ui tests", "ui test", "uitests", "uitest", "tests", "test"}

// xcodebuild -list -json payload shapes.
type xcodebuildList struct {
	Workspace *xcodebuildListEntry `json:"workspace"`
	Project   *xcodebuildListEntry `json:"project"`
}

type xcodebuildListEntry struct {
	Name    string   `json:"name"`
	Schemes []string `json:"schemes"`
}

// ResolverImpl implements domain.SchemeResolver.
type ResolverImpl struct {
	runner         domain.CommandRunner
	finder         domain.ContainerFinder
	xcodebuildPath string
	listTimeout    time.Duration
	cache          *ttlCache[domain.SchemeListResult]
	logger         *zap.Logger
}

// NewResolver creates a scheme resolver. Results are cached per container
// identity (not per root path), since multiple project roots may share
// one container.
func NewResolver(
	runner domain.CommandRunner,
	finder domain.ContainerFinder,
	xcodebuildPath string,
	listTimeout time.Duration,
	ttl time.Duration,
	logger *zap.Logger,
) *ResolverImpl {
	return &ResolverImpl{
		runner:         runner,
		finder:         finder,
		xcodebuildPath: xcodebuildPath,
		listTimeout:    listTimeout,
		cache:          newTTLCache[domain.SchemeListResult](ttl),
		logger:         logger,
	}
}

// ListSchemes resolves the container for rootPath and lists its schemes.
func (r *ResolverImpl) ListSchemes(ctx context.Context, rootPath string) domain.SchemeListResult {
	container := r.finder.Find(rootPath)
	if container == nil {
		return domain.SchemeListResult{
			Stage: domain.StageContainer,
			Error: fmt.Sprintf("no workspace or project found under %s", rootPath),
		}
	}

	key := string(container.Type) + ":" + container.Path
	if cached, ok := r.cache.get(key); ok {
		return cached
	}

	result := r.resolve(ctx, rootPath, container)
	if result.OK {
		r.cache.put(key, result)
	}
	return result
}

func (r *ResolverImpl) resolve(ctx context.Context, rootPath string, container *domain.Container) domain.SchemeListResult {
	// Direct filesystem enumeration is authoritative when it finds
	// anything; xcodebuild is only consulted as a fallback.
	if schemes := enumerateSchemeFiles(container.Path); len(schemes) > 0 {
		r.logger.Debug("schemes from filesystem",
			zap.String("container", container.Path),
			zap.Int("count", len(schemes)))
		return domain.SchemeListResult{OK: true, Schemes: schemes, Container: container}
	}

	flag := "-project"
	if container.Type == domain.ContainerWorkspace {
		flag = "-workspace"
	}
	res := r.runner.Run(ctx, domain.CommandSpec{
		Name:    r.xcodebuildPath,
		Args:    []string{flag, container.Path, "-list", "-json"},
		Timeout: r.listTimeout,
	})
	if !res.OK {
		return domain.SchemeListResult{
			Stage:     domain.StageSchemes,
			Error:     fmt.Sprintf("xcodebuild -list failed: %s", firstNonEmpty(res.Err, res.Stderr, res.Stdout)),
			Container: container,
			Details:   &domain.OutputDetails{Stdout: res.Stdout, Stderr: res.Stderr},
		}
	}

	var payload xcodebuildList
	if err := extractJSON(&payload, res.Stdout, res.Stderr, res.Stdout+res.Stderr); err != nil {
		return domain.SchemeListResult{
			Stage:     domain.StageSchemes,
			Error:     fmt.Sprintf("cannot parse scheme list: %v", err),
			Container: container,
			Details:   &domain.OutputDetails{Stdout: res.Stdout, Stderr: res.Stderr},
		}
	}

	var schemes []string
	if payload.Workspace != nil && len(payload.Workspace.Schemes) > 0 {
		schemes = payload.Workspace.Schemes
	} else if payload.Project != nil {
		schemes = payload.Project.Schemes
	}
	if len(schemes) == 0 {
		return domain.SchemeListResult{
			Stage:     domain.StageSchemes,
			Error:     "no schemes found",
			Container: container,
			Details:   &domain.OutputDetails{Stdout: res.Stdout, Stderr: res.Stderr},
		}
	}

	sorted := append([]string(nil), schemes...)
	sort.Strings(sorted)

	hints := collectHints(rootPath, container, &payload)
	return domain.SchemeListResult{
		OK:            true,
		Schemes:       sorted,
		DefaultScheme: PickDefaultScheme(sorted, hints),
		Container:     container,
	}
}

// enumerateSchemeFiles lists scheme names from the container's shared and
// per-user scheme directories.
func enumerateSchemeFiles(containerPath string) []string {
	dirs := []string{
		filepath.Join(containerPath, "xcshareddata", "xcschemes"),
	}
	userRoot := filepath.Join(containerPath, "xcuserdata")
	if entries, err := os.ReadDir(userRoot); err == nil {
		for _, e := range entries {
			if e.IsDir() && strings.HasSuffix(e.Name(), ".xcuserdatad") {
				dirs = append(dirs, filepath.Join(userRoot, e.Name(), "xcschemes"))
			}
		}
	}

	seen := make(map[string]bool)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // directory may not exist
		}
		for _, e := range entries {
			if name, ok := strings.CutSuffix(e.Name(), schemeSuffix); ok {
				seen[name] = true
			}
		}
	}

	schemes := make([]string, 0, len(seen))
	for name := range seen {
		schemes = append(schemes, name)
	}
	sort.Strings(schemes)
	return schemes
}

// collectHints gathers candidate app names used to rank schemes.
func collectHints(rootPath string, container *domain.Container, payload *xcodebuildList) []string {
	var hints []string
	if payload.Workspace != nil && payload.Workspace.Name != "" {
		hints = append(hints, payload.Workspace.Name)
	}
	if payload.Project != nil && payload.Project.Name != "" {
		hints = append(hints, payload.Project.Name)
	}
	hints = append(hints,
		strings.TrimSuffix(strings.TrimSuffix(filepath.Base(container.Path), workspaceSuffix), projectSuffix),
		filepath.Base(rootPath),
	)
	return hints
}

// IsTestScheme reports whether a scheme name names a test target:
// "Test(s)"/"UI Test(s)" as the trailing word, where a word break is a
// separator or a lowercase-to-uppercase transition ("MyAppTests").
func IsTestScheme(name string) bool {
	lower := strings.ToLower(name)
	for _, suf := range testSuffixes {
		if !strings.HasSuffix(lower, suf) {
			continue
		}
		if len(name) == len(suf) {
			return true
		}
		prev := rune(name[len(name)-len(suf)-1])
		first := rune(name[len(name)-len(suf)])
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			return true // separator boundary: "My Tests", "my-tests"
		}
		if unicode.IsLower(prev) && unicode.IsUpper(first) {
			return true // camel boundary: "MyAppTests"
		}
	}
	return false
}

// PickDefaultScheme chooses a default scheme, or "" when the choice is
// ambiguous and the caller must prompt for manual selection.
func PickDefaultScheme(schemes, hints []string) string {
	return pickDefaultScheme(schemes, hints, defaultSchemeWeights)
}

func pickDefaultScheme(schemes, hints []string, w schemeWeights) string {
	if len(schemes) == 0 {
		return ""
	}
	if len(schemes) == 1 {
		return schemes[0]
	}

	var nonTest []string
	for _, s := range schemes {
		if !IsTestScheme(s) {
			nonTest = append(nonTest, s)
		}
	}
	if len(nonTest) == 1 {
		return nonTest[0]
	}

	type scored struct {
		name  string
		score int
	}
	ranked := make([]scored, 0, len(schemes))
	for _, s := range schemes {
		ranked = append(ranked, scored{name: s, score: schemeScore(s, hints, w)})
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].name < ranked[b].name
	})

	top := ranked[0]
	if top.score < w.minScore {
		return ""
	}
	if len(ranked) > 1 && top.score-ranked[1].score < w.minLead {
		return ""
	}
	return top.name
}

// schemeScore ranks one scheme against the hint set.
func schemeScore(scheme string, hints []string, w schemeWeights) int {
	s := normalizeName(scheme)
	best := 0
	for _, hint := range hints {
		h := normalizeName(hint)
		if h == "" {
			continue
		}
		pts := 0
		if s == h {
			pts = w.hintExact
		} else {
			if strings.HasPrefix(h, s) {
				pts += w.schemePrefix
			}
			if strings.HasPrefix(s, h) {
				pts += w.hintPrefix
			}
		}
		if pts > best {
			best = pts
		}
	}

	score := best
	if strings.Contains(strings.ToLower(scheme), "app") {
		score += w.appName
	}
	if sampleSchemeRe.MatchString(scheme) {
		score -= w.sample
	}
	if IsTestScheme(scheme) {
		score -= w.testScheme
	}
	return score
}

// Ensure ResolverImpl implements domain.SchemeResolver.
var _ domain.SchemeResolver = (*ResolverImpl)(nil)
