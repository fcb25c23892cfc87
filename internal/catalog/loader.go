package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/xtding233/gacha-pity/internal/gacha"
)

// Paths locates catalog files under one directory:
//
//	default.yaml          defaults every banner inherits
//	items.yaml            the item catalog
//	banners/<name>.yaml   one file per banner
type Paths struct {
	BaseDir string
}

func (p Paths) DefaultPath() string { return filepath.Join(p.BaseDir, "default.yaml") }
func (p Paths) ItemsPath() string   { return filepath.Join(p.BaseDir, "items.yaml") }
func (p Paths) BannerDir() string   { return filepath.Join(p.BaseDir, "banners") }
func (p Paths) BannerPath(name string) string {
	return filepath.Join(p.BannerDir(), name+".yaml")
}

// Catalog is the resolved content of a catalog directory.
type Catalog struct {
	Banners []*gacha.Banner
	Items   []gacha.Item
}

// Loader reads YAML files and merges default → banner.
type Loader struct {
	paths Paths

	mu    sync.RWMutex
	cache map[string]RawBanner // key: banner name
}

func NewLoader(baseDir string) *Loader {
	return &Loader{
		paths: Paths{BaseDir: baseDir},
		cache: make(map[string]RawBanner),
	}
}

func (l *Loader) Paths() Paths { return l.paths }

// BannerNames lists banners/*.yaml without extension, sorted.
func (l *Loader) BannerNames() ([]string, error) {
	entries, err := os.ReadDir(l.paths.BannerDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

// WatchPaths returns every file whose change should trigger a reload.
func (l *Loader) WatchPaths() []string {
	out := []string{l.paths.DefaultPath(), l.paths.ItemsPath()}
	names, _ := l.BannerNames()
	for _, n := range names {
		out = append(out, l.paths.BannerPath(n))
	}
	return out
}

// LoadMerged returns default ← banners/<name>.yaml without validation.
func (l *Loader) LoadMerged(name string) (RawBanner, error) {
	l.mu.RLock()
	if cfg, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return cfg, nil
	}
	l.mu.RUnlock()

	var def RawBanner
	if err := readYAML(l.paths.DefaultPath(), &def); err != nil {
		return RawBanner{}, fmt.Errorf("read default: %w", err)
	}
	var own RawBanner
	path := l.paths.BannerPath(name)
	if _, err := os.Stat(path); err != nil {
		return RawBanner{}, fmt.Errorf("banner %q: %w", name, err)
	}
	if err := readYAML(path, &own); err != nil {
		return RawBanner{}, fmt.Errorf("read banner %q: %w", name, err)
	}
	merged := mergeRaw(def, own)

	l.mu.Lock()
	l.cache[name] = merged
	l.mu.Unlock()
	return merged, nil
}

// Load resolves every banner and the item catalog. Errors of all banners are
// reported together.
func (l *Loader) Load() (*Catalog, error) {
	var f itemsFile
	if err := readYAML(l.paths.ItemsPath(), &f); err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	items, err := resolveItems(f.Items)
	if err != nil {
		return nil, err
	}
	names, err := l.BannerNames()
	if err != nil {
		return nil, fmt.Errorf("list banners: %w", err)
	}

	cat := &Catalog{Items: items}
	var problems []string
	for _, n := range names {
		raw, err := l.LoadMerged(n)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		b, err := Resolve(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("banner %q: %v", n, err))
			continue
		}
		cat.Banners = append(cat.Banners, b)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("catalog %s: %s", l.paths.BaseDir, strings.Join(problems, "; "))
	}
	if err := checkReferences(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// Invalidate clears the merge cache. Call after the watcher reports a change.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]RawBanner)
}

// readYAML decodes path into out. Missing files leave out untouched.
func readYAML(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(b, out)
}

// mergeRaw overlays b on a: set scalars and non-nil pointers in b win, slices and
// maps in b replace a's.
func mergeRaw(a, b RawBanner) RawBanner {
	out := a
	if b.Version != "" {
		out.Version = b.Version
	}
	if b.ID != "" {
		out.ID = b.ID
	}
	if b.Name != "" {
		out.Name = b.Name
	}
	if b.Type != "" {
		out.Type = b.Type
	}
	if b.Notes != "" {
		out.Notes = b.Notes
	}
	if len(b.Rates) > 0 {
		out.Rates = make(map[string]float64, len(b.Rates))
		for k, v := range b.Rates {
			out.Rates[k] = v
		}
	}
	if len(b.FeaturedItems) > 0 {
		out.FeaturedItems = slices.Clone(b.FeaturedItems)
	}
	if len(b.Pool) > 0 {
		out.Pool = slices.Clone(b.Pool)
	}
	if b.FeaturedRate != nil {
		out.FeaturedRate = b.FeaturedRate
	}
	if b.StartAt != nil {
		out.StartAt = b.StartAt
	}
	if b.EndAt != nil {
		out.EndAt = b.EndAt
	}

	// pity
	switch {
	case out.Pity == nil && b.Pity != nil:
		c := *b.Pity
		out.Pity = &c
	case out.Pity != nil && b.Pity != nil:
		c := *out.Pity
		if b.Pity.SoftStart != nil {
			c.SoftStart = b.Pity.SoftStart
		}
		if b.Pity.Hard != nil {
			c.Hard = b.Pity.Hard
		}
		if b.Pity.SoftIncrease != nil {
			c.SoftIncrease = b.Pity.SoftIncrease
		}
		if b.Pity.GuaranteeAfterLoss != nil {
			c.GuaranteeAfterLoss = b.Pity.GuaranteeAfterLoss
		}
		out.Pity = &c
	}

	// tokens
	switch {
	case out.Tokens == nil && b.Tokens != nil:
		c := *b.Tokens
		out.Tokens = &c
	case out.Tokens != nil && b.Tokens != nil:
		c := *out.Tokens
		if b.Tokens.PerDraw != nil {
			c.PerDraw = b.Tokens.PerDraw
		}
		if b.Tokens.MultiPullSize != nil {
			c.MultiPullSize = b.Tokens.MultiPullSize
		}
		if b.Tokens.MultiPullDiscount != nil {
			c.MultiPullDiscount = b.Tokens.MultiPullDiscount
		}
		out.Tokens = &c
	}
	return out
}
