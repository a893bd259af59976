// Package cdn submits cache invalidation requests to CloudFront.
//
// A Dispatcher owns the dry-run switch and the distribution id, classifies
// provider failures into an Outcome and never returns an error to its
// caller. The CloudFront type adapts the AWS SDK client to the Invalidator
// interface the Dispatcher calls.
package cdn
