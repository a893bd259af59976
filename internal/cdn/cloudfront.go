package cdn

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/xerrors"
)

// DefaultRegion is the region CloudFront's control plane lives in.
const DefaultRegion = "us-east-1"

type cloudFrontAPI interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// CloudFront implements Invalidator over the AWS SDK.
type CloudFront struct {
	api cloudFrontAPI
}

// NewCloudFront builds a client from awsCfg. The SDK's retryer is limited
// to a single attempt; failed requests are reported, not retried.
func NewCloudFront(awsCfg aws.Config, region string) *CloudFront {
	if region == "" {
		region = DefaultRegion
	}
	client := cloudfront.NewFromConfig(awsCfg, func(o *cloudfront.Options) {
		o.Region = region
		o.RetryMaxAttempts = 1
	})
	return &CloudFront{api: client}
}

func (c *CloudFront) Invalidate(ctx context.Context, distributionID string, paths []string, callerRef string) (string, error) {
	items := make([]string, len(paths))
	copy(items, paths)

	out, err := c.api.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(callerRef),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(items))),
				Items:    items,
			},
		},
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "create invalidation for distribution %s", distributionID)
	}
	if out == nil || out.Invalidation == nil {
		return "", nil
	}
	return aws.ToString(out.Invalidation.Id), nil
}
