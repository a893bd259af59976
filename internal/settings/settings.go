package settings

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/pathtmpl"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/xerrors"
)

// Settings maps a content type name to its ordered path templates.
type Settings struct {
	Paths map[string][]string `json:"invalidation_paths"`
}

// For returns a copy of the templates for contentType, or nil.
func (s Settings) For(contentType string) []string {
	p := s.Paths[contentType]
	if len(p) == 0 {
		return nil
	}
	out := make([]string, len(p))
	copy(out, p)
	return out
}

// ContentTypes returns the configured content type names, sorted.
func (s Settings) ContentTypes() []string {
	out := make([]string, 0, len(s.Paths))
	for k := range s.Paths {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot is one loaded version of the settings.
type Snapshot struct {
	Settings Settings
	Hash     string
	Source   string
	LoadedAt time.Time
	Warnings []string
}

type document struct {
	InvalidationPaths map[string]any `yaml:"invalidation_paths"`
}

// Parse decodes a YAML or JSON settings document and sanitizes every
// template. Malformed entries are skipped and reported as warnings rather
// than failing the whole document, so a half-written settings form never
// disables invalidation for the content types that are well formed.
func Parse(data []byte) (Settings, []string, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Settings{}, nil, xerrors.Wrap(err, "parse settings document")
	}

	out := Settings{Paths: make(map[string][]string, len(doc.InvalidationPaths))}
	var warnings []string

	for rawType, v := range doc.InvalidationPaths {
		contentType := strings.TrimSpace(rawType)
		if contentType == "" {
			warnings = append(warnings, "skipping entry with empty content type")
			continue
		}

		var paths []string
		switch val := v.(type) {
		case nil:
			continue
		case string:
			paths = pathtmpl.Sanitize(val)
		case []any:
			for i, e := range val {
				s, ok := e.(string)
				if !ok {
					warnings = append(warnings, fmt.Sprintf("%s[%d]: skipping non-string path entry of type %T", contentType, i, e))
					continue
				}
				if p := pathtmpl.SanitizeLine(s); p != "" {
					paths = append(paths, p)
				}
			}
		default:
			warnings = append(warnings, fmt.Sprintf("%s: skipping value of type %T, want string or list", contentType, v))
			continue
		}

		for _, p := range paths {
			if pathtmpl.HasDotSegments(p) {
				warnings = append(warnings, fmt.Sprintf("%s: path %q contains dot segments, CloudFront matches them literally", contentType, p))
			}
		}

		if len(paths) > 0 {
			out.Paths[contentType] = paths
		}
	}

	sort.Strings(warnings)
	return out, warnings, nil
}

// hashBytes returns the hex sha256 of data.
func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// truncHash returns the first 12 characters of a hash for logging.
func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
