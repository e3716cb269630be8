package update

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Factory constructs an Observer implementation registered under a
// name. This is the explicit-registry translation spec.md §9 calls
// for of the source's reflective "load an Observer by class name"
// discovery: names are opaque identifiers, never real Go types.
type Factory func() Observer

type registration struct {
	version int
	factory Factory
}

// Registry resolves a preferred Observer name to a concrete instance,
// selecting the highest-registered version for that name or falling
// back to a default when the name is unknown -- a soft miss, per the
// Open Question resolution in spec.md §9 ("treat unknown names as a
// soft miss rather than a hard error").
type Registry struct {
	mu    sync.Mutex
	byName map[string][]registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string][]registration{}}
}

// Register adds factory as an implementation of name at version.
// Multiple versions of the same name may be registered; Resolve always
// picks the highest.
func (r *Registry) Register(name string, version int, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = append(r.byName[name], registration{version: version, factory: factory})
}

// Resolution describes the outcome of a Resolve call, including a
// fresh correlation ID for the chosen instance so callers can log
// which concrete Observer serviced a run without re-deriving identity
// from the (possibly empty) preferred name.
type Resolution struct {
	Observer   Observer
	InstanceID string
	Matched    bool // false when preferred fell back to the default
}

// Resolve returns the highest-versioned Observer registered under
// preferred. If preferred is empty or unregistered, it falls back to
// def (a caller-supplied default, typically NewDefaultObserver()).
func (r *Registry) Resolve(preferred string, def Observer) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.byName[preferred]
	if preferred == "" || len(regs) == 0 {
		return Resolution{Observer: def, InstanceID: uuid.NewString(), Matched: false}
	}

	sort.Slice(regs, func(i, j int) bool { return regs[i].version > regs[j].version })
	return Resolution{Observer: regs[0].factory(), InstanceID: uuid.NewString(), Matched: true}
}
