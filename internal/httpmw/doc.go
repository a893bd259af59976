// Package httpmw holds the HTTP middleware shared by the webhook and admin
// listeners.
//
// httpserver.NewHandler composes them outermost first: security headers,
// recover, request id, client ip, otel, settings headers,
// trace headers, metrics, request logger, then the chi router with access
// log, route annotation and body limit.
//
// Request logs carry only server-derived fields. Query strings, user agents
// and other caller-supplied headers are left out.
package httpmw
