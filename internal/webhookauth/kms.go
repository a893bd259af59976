package webhookauth

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/xerrors"
)

// MaxKMSMessageBytes is the largest message KMS VerifyMac accepts.
const MaxKMSMessageBytes = 4096

// kmsMacVerifier is the subset of the KMS API needed to verify a MAC.
type kmsMacVerifier interface {
	VerifyMac(ctx context.Context, params *kms.VerifyMacInput, optFns ...func(*kms.Options)) (*kms.VerifyMacOutput, error)
}

// KMSVerifier verifies signatures with an HMAC_256 KMS key.
type KMSVerifier struct {
	client kmsMacVerifier
	keyARN string
}

func NewKMSVerifier(client *kms.Client, keyARN string) *KMSVerifier {
	return &KMSVerifier{client: client, keyARN: keyARN}
}

func (v *KMSVerifier) Verify(ctx context.Context, body, mac []byte) error {
	if v.client == nil {
		return xerrors.New("kms client is not configured")
	}
	if len(body) > MaxKMSMessageBytes {
		return xerrors.Newf("webhook body of %d bytes exceeds the KMS VerifyMac limit of %d", len(body), MaxKMSMessageBytes)
	}

	out, err := v.client.VerifyMac(ctx, &kms.VerifyMacInput{
		KeyId:        aws.String(v.keyARN),
		Mac:          mac,
		Message:      body,
		MacAlgorithm: kmstypes.MacAlgorithmSpecHmacSha256,
	})
	if err != nil {
		var invalid *kmstypes.KMSInvalidMacException
		if errors.As(err, &invalid) {
			return ErrSignatureMismatch
		}
		return xerrors.Wrap(err, "kms verify mac")
	}
	if !out.MacValid {
		return ErrSignatureMismatch
	}
	return nil
}
