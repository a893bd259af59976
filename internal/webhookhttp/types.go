package webhookhttp

import (
	"time"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/content"
)

// eventPayload is the JSON body the CMS posts for every notification.
type eventPayload struct {
	Post    content.Item   `json:"post"`
	Context eventContext   `json:"context"`
	Source  content.Source `json:"source,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

type eventContext struct {
	DoingAutosave bool `json:"doing_autosave"`
	RESTRequest   bool `json:"rest_request"`
	RESTCompleted bool `json:"rest_completed"`
}

// EventResponse reports what the service did with one notification. The
// status code is 202 regardless of the invalidation outcome.
type EventResponse struct {
	Decision        string   `json:"decision"`
	Reason          string   `json:"reason"`
	Paths           []string `json:"paths"`
	CallerReference string   `json:"caller_reference,omitempty"`
	Outcome         string   `json:"outcome,omitempty"`
	InvalidationID  string   `json:"invalidation_id,omitempty"`
	RequestID       string   `json:"request_id,omitempty"`
}

// SettingsResponse is the read-only view of the active settings.
type SettingsResponse struct {
	Source    string              `json:"source,omitempty"`
	Hash      string              `json:"hash,omitempty"`
	LoadedAt  *time.Time          `json:"loaded_at,omitempty"`
	Paths     map[string][]string `json:"invalidation_paths"`
	RESTTypes []string            `json:"rest_types"`
	Warnings  []string            `json:"warnings,omitempty"`
	Error     string              `json:"error,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
