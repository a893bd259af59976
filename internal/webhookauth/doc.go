// Package webhookauth authenticates inbound CMS webhooks.
//
// The CMS signs the raw request body with HMAC-SHA256 and sends the result
// as "X-Webhook-Signature: sha256=<hex>". The key is either a shared secret
// held in process (HMACVerifier) or an HMAC key held in KMS that never
// leaves the service (KMSVerifier).
package webhookauth
