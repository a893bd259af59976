package cdn

import (
	"context"
	"errors"
	"net"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// classify maps an Invalidator error to an outcome kind and a short code.
func classify(err error) (Kind, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransportError, "timeout"
	case errors.Is(err, context.Canceled):
		return KindTransportError, "canceled"
	}

	var pe *panicError
	if errors.As(err, &pe) {
		return KindProviderError, "panic"
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "" {
			code = "unknown"
		}
		return KindProviderError, code
	}

	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) {
		return KindTransportError, "send"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransportError, "network"
	}

	return KindProviderError, "unknown"
}
