package workflow

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownEngine is returned by Lookup for an engine tag with no
// registered workflow.
var ErrUnknownEngine = errors.New("unknown engine")

// StepInfo describes one workflow step for the API.
type StepInfo struct {
	Name   string `json:"name"`
	Policy Policy `json:"policy"`
}

// EngineInfo pairs an engine tag with its provisioning steps.
type EngineInfo struct {
	Engine string     `json:"engine"`
	Steps  []StepInfo `json:"steps"`
}

// Catalog holds the registered workflows keyed by engine tag.
type Catalog struct {
	mu        sync.RWMutex
	workflows map[string]Workflow
}

// NewCatalog creates a catalog holding the given workflows.
func NewCatalog(workflows ...Workflow) *Catalog {
	c := &Catalog{workflows: make(map[string]Workflow)}
	for _, w := range workflows {
		c.Register(w)
	}
	return c
}

// Register adds w under its engine tag, replacing any earlier registration.
func (c *Catalog) Register(w Workflow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflows[w.Engine()] = w
}

// Lookup returns the workflow registered for engine.
func (c *Catalog) Lookup(engine string) (Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w, ok := c.workflows[engine]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownEngine, engine)
	}
	return w, nil
}

// Engines returns the registered engine tags, sorted.
func (c *Catalog) Engines() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	engines := make([]string, 0, len(c.workflows))
	for engine := range c.workflows {
		engines = append(engines, engine)
	}
	sort.Strings(engines)
	return engines
}

// List describes every registered workflow, sorted by engine for a stable
// API response.
func (c *Catalog) List() []EngineInfo {
	engines := c.Engines()

	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]EngineInfo, 0, len(engines))
	for _, engine := range engines {
		steps := c.workflows[engine].Steps()
		info := EngineInfo{Engine: engine, Steps: make([]StepInfo, 0, len(steps))}
		for _, s := range steps {
			info.Steps = append(info.Steps, StepInfo{Name: s.Name, Policy: s.Policy})
		}
		infos = append(infos, info)
	}
	return infos
}
