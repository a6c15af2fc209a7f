// Package scenario catalogs attack scenario scripts.
//
// A scenario is a script in the scenarios directory that sends a correlated,
// multi-product story of events to an HTTP event collector on its own,
// reading the collector from S1_HEC_URL and S1_HEC_TOKEN. An optional
// scenarios.toml in the same directory describes them:
//
//	[[scenario]]
//	id = "quick_scenario"
//	name = "Quick Scenario"
//	description = "Compact attack story spanning several products."
//	script = "quick_scenario.py"
//	duration_minutes = 5
//	total_events = 80
//	phases = ["Initial Access", "Movement", "Exfiltration"]
//
// Without a catalog file every .py and .sh script in the directory is a
// scenario named after its file.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
)

// CatalogFile is the optional scenario description file.
const CatalogFile = "scenarios.toml"

var (
	// ErrNotFound is returned for an unknown scenario id.
	ErrNotFound = errors.New("scenario not found")

	// ErrInvalidCatalog is returned when the catalog file does not parse or
	// describes an unusable scenario.
	ErrInvalidCatalog = errors.New("invalid scenario catalog")
)

var scenarioID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Scenario describes one scenario script.
type Scenario struct {
	ID              string   `json:"id" toml:"id"`
	Name            string   `json:"name" toml:"name"`
	Description     string   `json:"description,omitempty" toml:"description"`
	Script          string   `json:"-" toml:"script"`
	DurationMinutes int      `json:"duration_minutes,omitempty" toml:"duration_minutes"`
	TotalEvents     int      `json:"total_events,omitempty" toml:"total_events"`
	Phases          []string `json:"phases,omitempty" toml:"phases"`
}

// Catalog is the immutable set of scenarios in one directory.
type Catalog struct {
	resolver *executor.Resolver
	items    []Scenario
}

// Load reads the catalog for dir. A missing directory is an empty catalog.
// Scripts are not checked until they run.
func Load(dir, interpreter string) (*Catalog, error) {
	resolver, err := executor.NewResolver(dir, interpreter)
	if err != nil {
		return nil, err
	}
	c := &Catalog{resolver: resolver}

	items, err := readCatalog(filepath.Join(resolver.Dir(), CatalogFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		items, err = discover(resolver.Dir())
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}
	c.items = items
	return c, nil
}

func readCatalog(path string) ([]Scenario, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	var file struct {
		Scenario []Scenario `toml:"scenario"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, path, err)
	}

	seen := make(map[string]bool, len(file.Scenario))
	items := make([]Scenario, 0, len(file.Scenario))
	for _, s := range file.Scenario {
		if !scenarioID.MatchString(s.ID) {
			return nil, fmt.Errorf("%w: invalid id %q", ErrInvalidCatalog, s.ID)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, s.ID)
		}
		seen[s.ID] = true
		if s.Script == "" {
			s.Script = s.ID + ".py"
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		items = append(items, s)
	}
	return items, nil
}

// discover lists the scripts in dir in file name order. When a name exists
// as both .py and .sh the first one wins.
func discover(dir string) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios directory: %w", err)
	}

	var items []Scenario
	seen := make(map[string]bool)
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.Type().IsRegular() || (ext != ".py" && ext != ".sh") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if !scenarioID.MatchString(id) || seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, Scenario{ID: id, Name: id, Script: e.Name()})
	}
	return items, nil
}

// Dir returns the absolute scenarios directory.
func (c *Catalog) Dir() string { return c.resolver.Dir() }

// List returns every scenario in catalog order.
func (c *Catalog) List() []Scenario {
	out := make([]Scenario, len(c.items))
	copy(out, c.items)
	return out
}

// Get returns the scenario with id.
func (c *Catalog) Get(id string) (Scenario, error) {
	for _, s := range c.items {
		if s.ID == id {
			return s, nil
		}
	}
	return Scenario{}, ErrNotFound
}

// Invocation resolves the scenario's script inside the scenarios directory.
// Errors wrap executor.ErrInvalidGenerator.
func (c *Catalog) Invocation(s Scenario) (executor.Invocation, error) {
	inv, err := c.resolver.Resolve(s.Script)
	if err != nil {
		return executor.Invocation{}, fmt.Errorf("scenario %s: %w", s.ID, err)
	}
	return inv, nil
}
