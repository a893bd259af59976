// Package eventgate decides whether an inbound update event should result in
// a CDN invalidation.
//
// The CMS fires several notifications for one logical change: the classic
// save hook, a save hook in the middle of a REST write, the REST after-insert
// hook, and periodic autosaves. Only published content, and only one of those
// notifications, should do any work.
package eventgate

import (
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/content"
)

// Reason explains a gate decision. It is used as a metrics label, so the set
// of values is closed.
type Reason string

const (
	ReasonPublished      Reason = "published"
	ReasonUnpublished    Reason = "unpublished"
	ReasonAutosave       Reason = "autosave"
	ReasonRevision       Reason = "revision"
	ReasonRESTIncomplete Reason = "rest_incomplete"
)

// Decision is the outcome of evaluating one event.
type Decision struct {
	Process bool
	Reason  Reason
}

// Evaluate applies the gate rules in order; the first match wins.
func Evaluate(ev content.Event) Decision {
	it := ev.Item

	// 1. drafts never reach the CDN
	if it.Status.Unpublished() {
		return skip(ReasonUnpublished)
	}

	// 2. autosave ticks, either the request is an autosave or the record is one
	if ev.DoingAutosave || it.IsAutosave || ev.Source == content.SourceAutosave {
		return skip(ReasonAutosave)
	}

	// 3. revision snapshots
	if it.IsRevision || ev.Source == content.SourceRevision {
		return skip(ReasonRevision)
	}

	// 4. generic save fired mid REST write, the after-insert hook will follow
	if !ev.FromREST() && ev.InRESTRequest && !ev.RESTCompleted {
		return skip(ReasonRESTIncomplete)
	}

	return Decision{Process: true, Reason: ReasonPublished}
}

// ShouldProcess reports whether the event should trigger an invalidation.
func ShouldProcess(ev content.Event) bool {
	return Evaluate(ev).Process
}

func skip(r Reason) Decision { return Decision{Process: false, Reason: r} }
