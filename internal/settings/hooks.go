package settings

import (
	"sort"
	"sync"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/content"
)

// PathFilter rewrites the templates for one item before placeholders are
// resolved. The returned slice fully replaces the input; returning an empty
// slice cancels the invalidation. Filters must not retain or mutate paths.
type PathFilter func(paths []string, item content.Item) []string

// Hooks is a registry of path filters. Global filters run first, in
// registration order, then the filter registered for the item's content
// type. A content type with no filter is left unchanged.
type Hooks struct {
	mu     sync.RWMutex
	global []PathFilter
	byType map[string]PathFilter
}

func NewHooks() *Hooks {
	return &Hooks{byType: make(map[string]PathFilter)}
}

// Register sets the filter for contentType, replacing any previous one.
// A nil filter removes the registration.
func (h *Hooks) Register(contentType string, f PathFilter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f == nil {
		delete(h.byType, contentType)
		return
	}
	h.byType[contentType] = f
}

// Use appends a filter applied to every content type.
func (h *Hooks) Use(f PathFilter) {
	if f == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.global = append(h.global, f)
}

// Types returns the content types with a registered filter, sorted.
func (h *Hooks) Types() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.byType))
	for k := range h.byType {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Apply runs the filter chain for contentType over paths.
func (h *Hooks) Apply(contentType string, paths []string, item content.Item) []string {
	if h == nil {
		return paths
	}
	h.mu.RLock()
	chain := make([]PathFilter, 0, len(h.global)+1)
	chain = append(chain, h.global...)
	if f, ok := h.byType[contentType]; ok {
		chain = append(chain, f)
	}
	h.mu.RUnlock()

	for _, f := range chain {
		in := make([]string, len(paths))
		copy(in, paths)
		paths = f(in, item)
	}
	return paths
}

// AppendPaths returns a filter that appends extra templates.
func AppendPaths(extra ...string) PathFilter {
	cp := append([]string(nil), extra...)
	return func(paths []string, _ content.Item) []string {
		return append(paths, cp...)
	}
}

// ReplacePaths returns a filter that discards the configured templates and
// uses tpls instead.
func ReplacePaths(tpls ...string) PathFilter {
	cp := append([]string(nil), tpls...)
	return func([]string, content.Item) []string {
		return append([]string(nil), cp...)
	}
}
