// Package registry keeps the catalogue of registered tool definitions with
// category, kind, and tag indexes plus ranked text search.
//
// Definitions are immutable once registered. A single RWMutex guards the
// primary map and every index together, so a reader can never observe a tool
// listed in an index but absent from the primary map.
package registry

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/haasonsaas/conduit/pkg/errcode"
	"github.com/haasonsaas/conduit/pkg/models"
	"github.com/haasonsaas/conduit/pkg/schema"
)

var (
	idPattern      = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// Registry is the thread-safe tool catalogue.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]*models.ToolDefinition
	byCategory map[models.ToolCategory]map[string]struct{}
	byKind     map[models.ToolKind]map[string]struct{}
	byTag      map[string]map[string]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tools:      make(map[string]*models.ToolDefinition),
		byCategory: make(map[models.ToolCategory]map[string]struct{}),
		byKind:     make(map[models.ToolKind]map[string]struct{}),
		byTag:      make(map[string]map[string]struct{}),
	}
}

// Register validates def and adds it to the catalogue and every index.
// A duplicate id fails with ALREADY_EXISTS; invalid definitions fail with
// VALIDATION_FAILED carrying the full error list.
func (r *Registry) Register(def *models.ToolDefinition) error {
	if def == nil {
		return errcode.New(errcode.ValidationFailed, "tool definition is required")
	}
	if errs := validateDefinition(def); len(errs) > 0 {
		return errcode.Newf(errcode.ValidationFailed, "invalid tool definition %q", def.ID).WithDetails(errs...)
	}

	clone := *def
	clone.Tags = append([]string(nil), def.Tags...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[clone.ID]; exists {
		return errcode.Newf(errcode.AlreadyExists, "tool %q is already registered", clone.ID)
	}

	r.tools[clone.ID] = &clone
	indexAdd(r.byCategory, clone.Category, clone.ID)
	indexAdd(r.byKind, clone.Kind, clone.ID)
	for _, tag := range clone.Tags {
		indexAdd(r.byTag, tag, clone.ID)
	}
	return nil
}

// Unregister removes the tool from the primary map and every index.
// Unknown ids fail with NOT_FOUND.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, exists := r.tools[id]
	if !exists {
		return errcode.Newf(errcode.NotFound, "tool %q is not registered", id)
	}

	delete(r.tools, id)
	indexRemove(r.byCategory, def.Category, id)
	indexRemove(r.byKind, def.Kind, id)
	for _, tag := range def.Tags {
		indexRemove(r.byTag, tag, id)
	}
	return nil
}

// Get returns the tool by id.
func (r *Registry) Get(id string) (*models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[id]
	return def, ok
}

// Filter narrows List and Search results.
type Filter struct {
	// Category restricts to one category when non-empty.
	Category models.ToolCategory

	// Kind restricts to one kind when non-empty.
	Kind models.ToolKind

	// Tags requires the tool to carry every listed tag.
	Tags []string

	// IncludeDeprecated and IncludeExperimental opt flagged tools back in;
	// both are excluded by default.
	IncludeDeprecated   bool
	IncludeExperimental bool
}

func (f Filter) matches(def *models.ToolDefinition) bool {
	if def.Deprecated && !f.IncludeDeprecated {
		return false
	}
	if def.Experimental && !f.IncludeExperimental {
		return false
	}
	if f.Category != "" && def.Category != f.Category {
		return false
	}
	if f.Kind != "" && def.Kind != f.Kind {
		return false
	}
	for _, tag := range f.Tags {
		if !hasTag(def, tag) {
			return false
		}
	}
	return true
}

func hasTag(def *models.ToolDefinition, tag string) bool {
	for _, t := range def.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// List returns every tool matching the filter, sorted by id.
func (r *Registry) List(filter Filter) []*models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		if filter.matches(def) {
			out = append(out, def)
		}
	}
	sortByID(out)
	return out
}

// Stats summarises the catalogue.
type Stats struct {
	Total        int                         `json:"total"`
	ByCategory   map[models.ToolCategory]int `json:"by_category"`
	ByKind       map[models.ToolKind]int     `json:"by_kind"`
	Deprecated   int                         `json:"deprecated"`
	Experimental int                         `json:"experimental"`
	Tags         int                         `json:"tags"`
}

// Stats returns catalogue totals broken down by category and kind.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		ByCategory: make(map[models.ToolCategory]int),
		ByKind:     make(map[models.ToolKind]int),
		Tags:       len(r.byTag),
	}
	for _, def := range r.tools {
		stats.Total++
		stats.ByCategory[def.Category]++
		stats.ByKind[def.Kind]++
		if def.Deprecated {
			stats.Deprecated++
		}
		if def.Experimental {
			stats.Experimental++
		}
	}
	return stats
}

func indexAdd[K comparable](index map[K]map[string]struct{}, key K, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func indexRemove[K comparable](index map[K]map[string]struct{}, key K, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

func validateDefinition(def *models.ToolDefinition) []string {
	var errs []string

	if def.ID == "" {
		errs = append(errs, "id is required")
	} else if !idPattern.MatchString(def.ID) {
		errs = append(errs, fmt.Sprintf("id %q must match [A-Za-z0-9_-]+", def.ID))
	}
	if def.Name == "" {
		errs = append(errs, "name is required")
	}
	if def.Description == "" {
		errs = append(errs, "description is required")
	}
	if !versionPattern.MatchString(def.Version) {
		errs = append(errs, fmt.Sprintf("version %q must be semver (MAJOR.MINOR.PATCH)", def.Version))
	}
	if !validCategory(def.Category) {
		errs = append(errs, fmt.Sprintf("unknown category %q", def.Category))
	}
	if !validKind(def.Kind) {
		errs = append(errs, fmt.Sprintf("unknown type %q", def.Kind))
	}
	if _, err := schema.CompileRaw(def.InputSchema); err != nil {
		errs = append(errs, fmt.Sprintf("input schema: %v", err))
	}
	if _, err := schema.CompileRaw(def.OutputSchema); err != nil {
		errs = append(errs, fmt.Sprintf("output schema: %v", err))
	}
	if def.Execution.TimeoutMs <= 0 {
		errs = append(errs, "execution timeout_ms must be positive")
	}
	if limits := def.Execution.ResourceLimits; limits != nil {
		if limits.MaxMemoryMB <= 0 {
			errs = append(errs, "resource limits: max_memory_mb must be positive when specified")
		}
		if limits.MaxExecutionTimeMs < 0 || limits.MaxConcurrentExecutions < 0 {
			errs = append(errs, "resource limits must not be negative")
		}
	}
	if def.Handler == nil {
		errs = append(errs, "handler is required")
	}
	return errs
}

func validCategory(c models.ToolCategory) bool {
	for _, known := range models.Categories() {
		if c == known {
			return true
		}
	}
	return false
}

func validKind(k models.ToolKind) bool {
	for _, known := range models.Kinds() {
		if k == known {
			return true
		}
	}
	return false
}
