package settings

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/xerrors"
)

// DefaultExcludedTypes are the built-in CMS content types that never get a
// REST completion registration.
var DefaultExcludedTypes = []string{
	"page",
	"attachment",
	"revision",
	"nav_menu_item",
	"wp_template",
	"wp_template_part",
}

// alwaysRegistered is registered for REST completion even if excluded.
const alwaysRegistered = "post"

// Registration decides which content types accept REST completion
// notifications. Exclusions are glob patterns (wp_template*, *_log).
type Registration struct {
	patterns []string
	excludes []glob.Glob
}

// NewRegistration compiles DefaultExcludedTypes plus extra patterns.
func NewRegistration(extra []string) (*Registration, error) {
	r := &Registration{}
	for _, p := range append(append([]string(nil), DefaultExcludedTypes...), extra...) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, xerrors.Wrapf(err, "compile content type pattern %q", p)
		}
		r.patterns = append(r.patterns, p)
		r.excludes = append(r.excludes, g)
	}
	return r, nil
}

// Patterns returns the exclusion patterns in effect.
func (r *Registration) Patterns() []string {
	return append([]string(nil), r.patterns...)
}

// Excluded reports whether contentType matches an exclusion pattern.
func (r *Registration) Excluded(contentType string) bool {
	for _, g := range r.excludes {
		if g.Match(contentType) {
			return true
		}
	}
	return false
}

// RESTTypes returns "post" plus every non-excluded type in known,
// deduplicated and sorted.
func (r *Registration) RESTTypes(known []string) []string {
	seen := map[string]bool{alwaysRegistered: true}
	out := []string{alwaysRegistered}
	for _, t := range known {
		if t == "" || seen[t] || r.Excluded(t) {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Accepts reports whether contentType is registered given the known types.
func (r *Registration) Accepts(contentType string, known []string) bool {
	if contentType == alwaysRegistered {
		return true
	}
	if contentType == "" || r.Excluded(contentType) {
		return false
	}
	for _, t := range known {
		if t == contentType {
			return true
		}
	}
	return false
}
