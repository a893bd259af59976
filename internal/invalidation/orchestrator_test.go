package invalidation

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/callerref"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/cdn"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/content"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/eventgate"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/settings"
)

type recordingInvalidator struct {
	calls []cdn.Request
	dists []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, dist string, paths []string, ref string) (string, error) {
	r.calls = append(r.calls, cdn.Request{Paths: paths, CallerReference: ref})
	r.dists = append(r.dists, dist)
	return "INV", nil
}

type countingMetrics struct {
	events []string
}

func (m *countingMetrics) IncEvent(source, decision, reason string) {
	m.events = append(m.events, source+"/"+decision+"/"+reason)
}

var fixedNow = time.Date(2024, 3, 9, 14, 5, 42, 0, time.UTC)

func newTestOrchestrator(t *testing.T, paths map[string][]string, hooks *settings.Hooks, cfg cdn.Config) (*Orchestrator, *recordingInvalidator, *countingMetrics) {
	t.Helper()
	m := settings.NewManager()
	m.Set(settings.Snapshot{Settings: settings.Settings{Paths: paths}})
	inv := &recordingInvalidator{}
	met := &countingMetrics{}
	o := New(Options{
		Paths:      settings.NewLookup(m, hooks, nil),
		Dispatcher: cdn.NewDispatcher(cfg, inv, nil, nil),
		Metrics:    met,
		Now:        func() time.Time { return fixedNow },
	})
	return o, inv, met
}

func publishedPost() content.Event {
	return content.Event{
		Item:   content.Item{ID: "7", Slug: "launch", Type: "post", Status: content.StatusPublish},
		Source: content.SourceStandardSave,
	}
}

func TestHandle_EndToEnd(t *testing.T) {
	o, inv, met := newTestOrchestrator(t,
		map[string][]string{"post": {"/blog/%slug%"}},
		nil,
		cdn.Config{DistributionID: "E123"},
	)

	res := o.Handle(context.Background(), publishedPost())

	wantRef := "7-" + callerref.Bucket(fixedNow)
	if len(inv.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(inv.calls))
	}
	if !reflect.DeepEqual(inv.calls[0].Paths, []string{"/blog/launch"}) {
		t.Fatalf("paths = %v", inv.calls[0].Paths)
	}
	if inv.calls[0].CallerReference != wantRef || wantRef != "7-202403091405" {
		t.Fatalf("caller reference = %q, want %q", inv.calls[0].CallerReference, wantRef)
	}
	if inv.dists[0] != "E123" {
		t.Fatalf("distribution = %q", inv.dists[0])
	}
	if !res.Decision.Process || res.Outcome.Kind != cdn.KindOK || !res.Dispatched() {
		t.Fatalf("result = %+v", res)
	}
	if !reflect.DeepEqual(met.events, []string{"standard-save/process/published"}) {
		t.Fatalf("events = %v", met.events)
	}
}

func TestHandle_GateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*content.Event)
		reason eventgate.Reason
	}{
		{"draft", func(e *content.Event) { e.Item.Status = content.StatusDraft }, eventgate.ReasonUnpublished},
		{"autosave", func(e *content.Event) { e.DoingAutosave = true }, eventgate.ReasonAutosave},
		{"revision", func(e *content.Event) { e.Item.IsRevision = true }, eventgate.ReasonRevision},
		{"rest incomplete", func(e *content.Event) { e.InRESTRequest = true }, eventgate.ReasonRESTIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, inv, _ := newTestOrchestrator(t,
				map[string][]string{"post": {"/blog/%slug%"}}, nil, cdn.Config{DistributionID: "E1"})
			ev := publishedPost()
			tt.mutate(&ev)

			res := o.Handle(context.Background(), ev)
			if res.Decision.Process || res.Decision.Reason != tt.reason {
				t.Fatalf("decision = %+v, want skip %s", res.Decision, tt.reason)
			}
			if len(inv.calls) != 0 || res.Dispatched() {
				t.Fatal("rejected event reached the dispatcher")
			}
		})
	}
}

func TestHandle_RESTCompletionProcesses(t *testing.T) {
	o, inv, _ := newTestOrchestrator(t,
		map[string][]string{"post": {"/blog/%slug%"}}, nil, cdn.Config{DistributionID: "E1"})
	ev := publishedPost()
	ev.Source = content.SourceRESTInsert
	ev.InRESTRequest = true
	ev.RESTCompleted = true

	o.Handle(context.Background(), ev)
	if len(inv.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(inv.calls))
	}
}

func TestHandle_NoTemplates(t *testing.T) {
	o, inv, _ := newTestOrchestrator(t, map[string][]string{"page": {"/%slug%"}}, nil, cdn.Config{DistributionID: "E1"})

	res := o.Handle(context.Background(), publishedPost())
	if len(inv.calls) != 0 {
		t.Fatal("dispatcher called with no templates")
	}
	if res.Outcome.Kind != cdn.KindEmptyRequest || res.Dispatched() {
		t.Fatalf("outcome = %v", res.Outcome)
	}
}

func TestHandle_SettingsNotLoaded(t *testing.T) {
	var buf bytes.Buffer
	lg, err := log.New(log.Options{JsonFormat: true, Writer: &buf})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	m := settings.NewManager()
	inv := &recordingInvalidator{}
	o := New(Options{
		Paths:      settings.NewLookup(m, nil, nil),
		Dispatcher: cdn.NewDispatcher(cdn.Config{DistributionID: "E1"}, inv, nil, nil),
		Settings:   m,
		Logger:     lg,
		Now:        func() time.Time { return fixedNow },
	})

	res := o.Handle(context.Background(), publishedPost())
	if len(inv.calls) != 0 || res.Dispatched() {
		t.Fatal("dispatcher called without settings")
	}
	if res.Outcome.Kind != cdn.KindSettingsUnavailable || res.Outcome.Err == nil {
		t.Fatalf("outcome = %+v, want %s with error", res.Outcome, cdn.KindSettingsUnavailable)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, "settings not loaded") {
		t.Fatalf("expected a warning, got %q", out)
	}

	// once loaded, an unmapped type is an ordinary empty request
	m.Set(settings.Snapshot{Settings: settings.Settings{Paths: map[string][]string{"page": {"/%slug%"}}}})
	if res := o.Handle(context.Background(), publishedPost()); res.Outcome.Kind != cdn.KindEmptyRequest {
		t.Fatalf("outcome after load = %v", res.Outcome)
	}
}

func TestHandle_BlankTemplatesNotDispatched(t *testing.T) {
	h := settings.NewHooks()
	h.Register("post", func([]string, content.Item) []string { return []string{"", "  "} })
	o, inv, _ := newTestOrchestrator(t, map[string][]string{"post": {"/blog/%slug%"}}, h, cdn.Config{DistributionID: "E1"})

	res := o.Handle(context.Background(), publishedPost())
	if len(inv.calls) != 0 || res.Outcome.Kind != cdn.KindEmptyRequest {
		t.Fatalf("calls = %+v outcome = %v", inv.calls, res.Outcome)
	}
}

func TestHandle_HookTransformsPaths(t *testing.T) {
	h := settings.NewHooks()
	h.Register("post", func(p []string, it content.Item) []string {
		return append(p, "/posts/%id%/%slug%")
	})
	o, inv, _ := newTestOrchestrator(t, map[string][]string{"post": {"/blog/%slug%"}}, h, cdn.Config{DistributionID: "E1"})

	ev := publishedPost()
	ev.Item.Slug = ""
	o.Handle(context.Background(), ev)

	want := []string{"/blog/7", "/posts/7/7"}
	if len(inv.calls) != 1 || !reflect.DeepEqual(inv.calls[0].Paths, want) {
		t.Fatalf("calls = %+v, want paths %v", inv.calls, want)
	}
}

func TestHandle_HookCancels(t *testing.T) {
	h := settings.NewHooks()
	h.Register("post", func([]string, content.Item) []string { return nil })
	o, inv, _ := newTestOrchestrator(t, map[string][]string{"post": {"/blog/%slug%"}}, h, cdn.Config{DistributionID: "E1"})

	o.Handle(context.Background(), publishedPost())
	if len(inv.calls) != 0 {
		t.Fatal("hook returning no paths must cancel the invalidation")
	}
}

func TestHandle_DryRun(t *testing.T) {
	o, inv, _ := newTestOrchestrator(t, map[string][]string{"post": {"/blog/%slug%"}}, nil, cdn.Config{DryRun: true})

	res := o.Handle(context.Background(), publishedPost())
	if len(inv.calls) != 0 {
		t.Fatal("dry run reached the invalidator")
	}
	if res.Outcome.Kind != cdn.KindDryRun || !reflect.DeepEqual(res.Paths, []string{"/blog/launch"}) {
		t.Fatalf("result = %+v", res)
	}
}

func TestHandle_DuplicatePathsSentAsIs(t *testing.T) {
	o, inv, _ := newTestOrchestrator(t,
		map[string][]string{"post": {"/blog/%slug%", "/blog/launch"}}, nil, cdn.Config{DistributionID: "E1"})

	o.Handle(context.Background(), publishedPost())
	if want := []string{"/blog/launch", "/blog/launch"}; !reflect.DeepEqual(inv.calls[0].Paths, want) {
		t.Fatalf("paths = %v, want %v", inv.calls[0].Paths, want)
	}
}

func TestHandle_SameMinuteSameReference(t *testing.T) {
	o, inv, _ := newTestOrchestrator(t, map[string][]string{"post": {"/blog/%slug%"}}, nil, cdn.Config{DistributionID: "E1"})
	o.Handle(context.Background(), publishedPost())
	o.Handle(context.Background(), publishedPost())
	if inv.calls[0].CallerReference != inv.calls[1].CallerReference {
		t.Fatal("saves in the same minute should share a caller reference")
	}
}
