package cdn

// Kind classifies the result of one dispatch.
type Kind string

const (
	KindOK             Kind = "ok"
	KindDryRun         Kind = "dry_run"
	KindConfigError    Kind = "config_error"
	KindProviderError  Kind = "provider_error"
	KindTransportError Kind = "transport_error"
	KindEmptyRequest   Kind = "empty_request"

	// KindSettingsUnavailable means no settings document was active, so
	// the event could not be mapped to paths and was dropped.
	KindSettingsUnavailable Kind = "settings_unavailable"
)

// Outcome reports what happened to an invalidation request. It is for
// reporting only; failures have already been logged by the Dispatcher.
type Outcome struct {
	Kind Kind

	// Code is the provider error code or a short transport reason.
	Code string

	// InvalidationID is set when CloudFront accepted the batch.
	InvalidationID string

	Err error
}

// OK reports whether the request succeeded or was intentionally skipped
// by dry-run mode.
func (o Outcome) OK() bool {
	return o.Kind == KindOK || o.Kind == KindDryRun
}

func (o Outcome) String() string {
	if o.Code != "" {
		return string(o.Kind) + ":" + o.Code
	}
	return string(o.Kind)
}
