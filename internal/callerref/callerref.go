// Package callerref derives CloudFront caller references for invalidations.
//
// A caller reference is the idempotency key CloudFront uses to collapse
// duplicate CreateInvalidation calls. Bucketing it by minute means repeated
// saves of the same item within one UTC minute produce a single
// invalidation, without any in-process locking.
package callerref

import (
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/content"
)

// BucketLayout is the minute-precision timestamp layout (YYYYMMDDHHmm).
const BucketLayout = "200601021504"

// TokenFor returns "<id>-<YYYYMMDDHHmm>" for the UTC minute containing now.
func TokenFor(id content.ID, now time.Time) string {
	var b strings.Builder
	b.Grow(len(id) + 1 + len(BucketLayout))
	b.WriteString(id.String())
	b.WriteByte('-')
	b.WriteString(Bucket(now))
	return b.String()
}

// Bucket formats the UTC minute containing t.
func Bucket(t time.Time) string {
	return t.UTC().Truncate(time.Minute).Format(BucketLayout)
}
