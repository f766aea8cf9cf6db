package unit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"wosbot/internal/profile"
)

// Routine is one automation script.
type Routine interface {
	Run(ctx context.Context, x *Exec) Result
}

type RoutineFunc func(ctx context.Context, x *Exec) Result

func (f RoutineFunc) Run(ctx context.Context, x *Exec) Result { return f(ctx, x) }

// Definition is an immutable task type.
type Definition struct {
	Type TaskType
	Name string

	// Priority breaks ties between units due at the same instant; higher runs first.
	Priority int

	DefaultInterval time.Duration
	StartLocation   StartLocation

	// Recurring is the initial recurring flag of new units.
	Recurring bool

	// Mandatory definitions are scheduled for every profile regardless of its
	// task toggles (session bootstrap).
	Mandatory bool

	Factory func(p profile.Profile) Routine
}

func (d *Definition) validate() error {
	if strings.TrimSpace(string(d.Type)) == "" {
		return fmt.Errorf("task definition: type required")
	}
	if d.Factory == nil {
		return fmt.Errorf("task definition %s: factory required", d.Type)
	}
	if d.StartLocation == "" {
		d.StartLocation = LocationAny
	}
	if d.Name == "" {
		d.Name = string(d.Type)
	}
	return nil
}

// Catalog is the registry of task definitions known to the engine.
type Catalog struct {
	mu   sync.RWMutex
	defs map[TaskType]*Definition
}

func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[TaskType]*Definition, len(defs))}
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) Register(d Definition) error {
	if err := d.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[d.Type]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, d.Type)
	}
	def := d
	c.defs[d.Type] = &def
	return nil
}

func (c *Catalog) Get(t TaskType) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[t]
	return d, ok
}

// All returns definitions sorted by priority (desc) then type.
func (c *Catalog) All() []*Definition {
	c.mu.RLock()
	out := make([]*Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// ForProfile returns the definitions a profile should have units for.
func (c *Catalog) ForProfile(p profile.Profile) []*Definition {
	var out []*Definition
	for _, d := range c.All() {
		if d.Mandatory || p.TaskEnabled(string(d.Type)) {
			out = append(out, d)
		}
	}
	return out
}
