package content

// Source is the notification channel that produced an update event.
type Source string

const (
	SourceStandardSave Source = "standard-save"
	SourceRESTInsert   Source = "rest-insert"
	SourceAutosave     Source = "autosave"
	SourceRevision     Source = "revision"
)

// Valid reports whether s is one of the known trigger sources.
func (s Source) Valid() bool {
	switch s {
	case SourceStandardSave, SourceRESTInsert, SourceAutosave, SourceRevision:
		return true
	}
	return false
}

// Event is one inbound update notification. It is created per notification
// and never persisted.
type Event struct {
	Item   Item
	Source Source

	// DoingAutosave mirrors the CMS-wide autosave flag for the request that
	// fired the notification.
	DoingAutosave bool

	// InRESTRequest is set when the notification fired inside a REST API
	// request.
	InRESTRequest bool

	// RESTCompleted is set once the REST after-insert signal has fired for
	// the request, i.e. the write is fully committed.
	RESTCompleted bool

	// RequestID is the CMS-side request identifier, used only for logs.
	RequestID string
}

// FromREST reports whether the event arrived on the REST completion channel.
func (e Event) FromREST() bool { return e.Source == SourceRESTInsert }
