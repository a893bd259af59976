package settings

import (
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/content"
)

// Provider returns the raw templates configured for a content type.
type Provider interface {
	PathsFor(contentType string) []string
	ContentTypes() []string
}

// Lookup combines the settings snapshot with the hook registry.
type Lookup struct {
	provider     Provider
	hooks        *Hooks
	registration *Registration
}

// NewLookup builds a Lookup. hooks and reg may be nil.
func NewLookup(p Provider, hooks *Hooks, reg *Registration) *Lookup {
	if reg == nil {
		reg, _ = NewRegistration(nil)
	}
	return &Lookup{provider: p, hooks: hooks, registration: reg}
}

// PathsFor returns the templates to resolve for item: the configured
// templates for contentType passed through the hook chain.
func (l *Lookup) PathsFor(contentType string, item content.Item) []string {
	var raw []string
	if l.provider != nil {
		raw = l.provider.PathsFor(contentType)
	}
	return l.hooks.Apply(contentType, raw, item)
}

// knownTypes is every content type with settings or a registered hook.
func (l *Lookup) knownTypes() []string {
	var known []string
	if l.provider != nil {
		known = append(known, l.provider.ContentTypes()...)
	}
	if l.hooks != nil {
		known = append(known, l.hooks.Types()...)
	}
	return known
}

// RESTTypes lists the content types that accept REST completion events.
func (l *Lookup) RESTTypes() []string {
	return l.registration.RESTTypes(l.knownTypes())
}

// RESTRegistered reports whether contentType accepts REST completion events.
func (l *Lookup) RESTRegistered(contentType string) bool {
	return l.registration.Accepts(contentType, l.knownTypes())
}
