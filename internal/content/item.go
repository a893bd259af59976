package content

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Status is the publication status of a content item.
type Status string

const (
	StatusAutoDraft Status = "auto-draft"
	StatusDraft     Status = "draft"
	StatusInherit   Status = "inherit"
	StatusPending   Status = "pending"
	StatusPublish   Status = "publish"
	StatusFuture    Status = "future"
	StatusPrivate   Status = "private"
	StatusTrash     Status = "trash"
)

// Normalize lower-cases and trims s, so "Draft " reads as draft.
func (s Status) Normalize() Status {
	return Status(strings.ToLower(strings.TrimSpace(string(s))))
}

// Unpublished reports whether the status belongs to content that is still
// being drafted and must never reach the CDN.
func (s Status) Unpublished() bool {
	switch s.Normalize() {
	case StatusAutoDraft, StatusDraft, StatusInherit, StatusPending:
		return true
	}
	return false
}

// ID is an opaque content identifier. The CMS sends numeric ids, but any
// string is accepted so other platforms can use slugs or uuids.
type ID string

// UnmarshalJSON accepts both `7` and `"7"`.
func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Item is a snapshot of one content record.
type Item struct {
	ID     ID     `json:"id"`
	Slug   string `json:"slug,omitempty"`
	Type   string `json:"type"`
	Status Status `json:"status"`

	// IsAutosave is set when the record itself is an autosave copy.
	IsAutosave bool `json:"is_autosave,omitempty"`
	// IsRevision is set when the record is a revision snapshot rather than
	// the primary content record.
	IsRevision bool `json:"is_revision,omitempty"`
}

// SlugOrID returns the slug, falling back to the id when the item has none.
func (it Item) SlugOrID() string {
	if it.Slug == "" {
		return it.ID.String()
	}
	return it.Slug
}
