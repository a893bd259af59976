// Package ratelimit is per-client-IP token bucket rate limiting for the
// webhook listener, built on golang.org/x/time/rate.
//
// Signed webhooks never spend tokens. The webhook routes charge only
// requests that fail authentication, or every request when no verifier is
// configured, and check [IPLimiter.Blocked] before verifying a signature.
//
// State is in memory and per instance. It bounds what a single misbehaving
// CMS or scanner can push through to the CDN API; it is not a defence
// against distributed floods, which belong to an upstream WAF.
package ratelimit
