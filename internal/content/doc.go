// Package content defines the content items and update events the CMS
// reports to this service.
//
// An [Item] is an immutable snapshot of a post as it looked when the CMS
// fired the notification. An [Event] wraps the item with the provenance the
// CMS knows about at that moment: which notification fired ([Source]) and
// the ambient request flags (autosave in progress, REST request in flight,
// REST after-insert already fired).
//
// Nothing in this package mutates an item once constructed.
package content
