// Package registry maps task codes to task unit constructors, with static
// and dynamic registration and persistence of dynamic entries to disk.
package registry

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/swarmguard/artemis/internal/taskctx"
)

// Constructor is an alias of taskctx.Constructor so callers outside
// taskctx don't need to import it just to build a registry.
type Constructor = taskctx.Constructor

// Spec records how a task code resolves to a constructor, and whether the
// entry was registered dynamically (and therefore persisted to disk).
type Spec struct {
	ModuleRef string
	ClassName string
	IsDynamic bool
	ctor      Constructor
}

type dynamicEntry struct {
	Module    string `yaml:"module"`
	ClassName string `yaml:"class_name"`
}

// Registry is the process-wide task code -> constructor map. Safe for
// concurrent reads; writes are serialized under a mutex.
type Registry struct {
	mu             sync.RWMutex
	specs          map[string]Spec
	persistPath    string
	dynamicFactory func(moduleRef, className string) (Constructor, error)
}

// New constructs an empty registry. persistPath is where dynamic
// registrations are saved/loaded; dynamicFactory maps a persisted
// {module,class_name} pair back to a linked constructor (there is no
// runtime code loading — every constructor this can ever resolve to must
// already be compiled in and known to the factory).
func New(persistPath string, dynamicFactory func(moduleRef, className string) (Constructor, error)) *Registry {
	return &Registry{
		specs:          map[string]Spec{},
		persistPath:    persistPath,
		dynamicFactory: dynamicFactory,
	}
}

// NormalizeKey trims whitespace and rejects the empty string.
func NormalizeKey(code string) (string, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "", fmt.Errorf("registry: task code must not be empty")
	}
	return trimmed, nil
}

// RegisterStatic registers a compiled-in constructor. Duplicate codes fail.
func (r *Registry) RegisterStatic(code string, ctor Constructor) error {
	return r.register(code, Spec{IsDynamic: false, ctor: ctor}, false)
}

// RegisterDynamic registers a constructor discovered at runtime (e.g. via
// the dynamic-registration API) and persists it to disk unless persist is
// false (used when loading previously-persisted entries back in, to avoid
// a write loop).
func (r *Registry) RegisterDynamic(code, moduleRef, className string, ctor Constructor, persist bool) error {
	spec := Spec{ModuleRef: moduleRef, ClassName: className, IsDynamic: true, ctor: ctor}
	if err := r.register(code, spec, persist); err != nil {
		return err
	}
	return nil
}

func (r *Registry) register(code string, spec Spec, persist bool) error {
	key, err := NormalizeKey(code)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if _, exists := r.specs[key]; exists {
		r.mu.Unlock()
		return fmt.Errorf("registry: duplicate task code %q", key)
	}
	r.specs[key] = spec
	r.mu.Unlock()

	if persist && spec.IsDynamic {
		return r.save()
	}
	return nil
}

// Unregister removes a dynamic entry. Static entries cannot be unregistered.
func (r *Registry) Unregister(code string) error {
	key, err := NormalizeKey(code)
	if err != nil {
		return err
	}
	r.mu.Lock()
	spec, ok := r.specs[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: task code %q not registered", key)
	}
	if !spec.IsDynamic {
		r.mu.Unlock()
		return fmt.Errorf("registry: task code %q is static and cannot be unregistered", key)
	}
	delete(r.specs, key)
	r.mu.Unlock()
	return r.save()
}

// Has reports whether a code is registered.
func (r *Registry) Has(code string) bool {
	key, err := NormalizeKey(code)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[key]
	return ok
}

// Get resolves a code to its constructor. Resolution failure is a runtime
// error for the caller, not a registration-time error.
func (r *Registry) Get(code string) (Constructor, error) {
	key, err := NormalizeKey(code)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	spec, ok := r.specs[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown task code %q", key)
	}
	if spec.ctor == nil {
		return nil, fmt.Errorf("registry: task code %q has no resolvable constructor", key)
	}
	return spec.ctor, nil
}

// List returns a shallow copy of the code -> spec map.
func (r *Registry) List() map[string]Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Spec, len(r.specs))
	for k, v := range r.specs {
		out[k] = v
	}
	return out
}

// LoadPersisted reads persisted dynamic registrations from disk and
// registers each via dynamicFactory, without re-persisting (persist=false)
// to avoid rewriting the file it just read.
func (r *Registry) LoadPersisted() error {
	if r.persistPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries map[string]dynamicEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("registry: malformed registrations file: %w", err)
	}
	for code, entry := range entries {
		ctor, err := r.dynamicFactory(entry.Module, entry.ClassName)
		if err != nil {
			return fmt.Errorf("registry: resolving persisted entry %q: %w", code, err)
		}
		if err := r.RegisterDynamic(code, entry.Module, entry.ClassName, ctor, false); err != nil {
			return err
		}
	}
	return nil
}

// ReloadPersisted re-reads the persisted registrations file and registers
// any code not already known. Unlike LoadPersisted (used once at startup,
// where every code is new), codes already present are left untouched
// rather than raising a duplicate-registration error — reload is additive
// only, matching spec.md 4.2's "dynamic entries persist on mutation"
// without making unregistration implicit.
func (r *Registry) ReloadPersisted() error {
	if r.persistPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries map[string]dynamicEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("registry: malformed registrations file: %w", err)
	}
	for code, entry := range entries {
		if r.Has(code) {
			continue
		}
		ctor, err := r.dynamicFactory(entry.Module, entry.ClassName)
		if err != nil {
			return fmt.Errorf("registry: resolving persisted entry %q: %w", code, err)
		}
		if err := r.RegisterDynamic(code, entry.Module, entry.ClassName, ctor, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) save() error {
	if r.persistPath == "" {
		return nil
	}
	r.mu.RLock()
	out := map[string]dynamicEntry{}
	for code, spec := range r.specs {
		if spec.IsDynamic {
			out[code] = dynamicEntry{Module: spec.ModuleRef, ClassName: spec.ClassName}
		}
	}
	r.mu.RUnlock()

	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	return os.WriteFile(r.persistPath, data, 0o644)
}
