// Package pathtmpl expands invalidation path templates and normalizes the
// raw template text operators enter in settings.
//
// Two placeholders are supported:
//
//	%id%   the content item id
//	%slug% the content item slug, or the id when the item has no slug
//
// No escaping is performed. Template authors are responsible for producing
// valid CloudFront path syntax (including wildcards such as /blog/*).
package pathtmpl

import (
	"regexp"
	"strings"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/content"
)

const (
	PlaceholderID   = "%id%"
	PlaceholderSlug = "%slug%"
)

var lineBreak = regexp.MustCompile(`\r\n|\r|\n`)

// Resolve substitutes placeholders in tpl with the identity of item.
// %id% is replaced first so a slug containing the literal text "%id%" is
// left alone.
func Resolve(tpl string, item content.Item) string {
	out := strings.ReplaceAll(tpl, PlaceholderID, item.ID.String())
	out = strings.ReplaceAll(out, PlaceholderSlug, item.SlugOrID())
	return EnsureLeadingSlash(out)
}

// ResolveAll resolves every template, preserving order and duplicates.
// Blank templates, which a hook may return, are dropped rather than
// widened to the site root.
func ResolveAll(tpls []string, item content.Item) []string {
	out := make([]string, 0, len(tpls))
	for _, tpl := range tpls {
		if strings.TrimSpace(tpl) == "" {
			continue
		}
		out = append(out, Resolve(tpl, item))
	}
	return out
}

// Sanitize turns the multi-line text of one settings field into templates:
// one per line, trimmed, blank lines dropped, leading slash enforced.
func Sanitize(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, line := range lineBreak.Split(raw, -1) {
		if p := SanitizeLine(line); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SanitizeLine normalizes a single template. It returns "" for blank input.
func SanitizeLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	return EnsureLeadingSlash(line)
}

// EnsureLeadingSlash prefixes p with "/" when missing.
func EnsureLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// HasDotSegments reports whether any path segment is "." or "..".
// CloudFront treats these literally, which is almost never what the
// operator meant, so settings loading warns about them.
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}
