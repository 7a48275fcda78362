package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/bidkeeper/internal/bidrequest"
	"github.com/solatis/bidkeeper/internal/types"
)

// Auth errors are mapped in the auth package interceptor.
// Parse errors map to INVALID_ARGUMENT.
// A full dispatch queue maps to RESOURCE_EXHAUSTED so clients back off.
// A stopped or stopping engine maps to UNAVAILABLE.
// Context timeouts map to DEADLINE_EXCEEDED.

// Per-request statuses reported by ReportBidRequests.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// grpcCode maps an ingest failure to a gRPC status code.
func grpcCode(err error) codes.Code {
	var perr *bidrequest.ParseError
	switch {
	case errors.As(err, &perr):
		return codes.InvalidArgument
	case errors.Is(err, types.ErrQueueFull):
		return codes.ResourceExhausted
	case errors.Is(err, types.ErrEngineNotRunning), errors.Is(err, types.ErrEngineStopped):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// statusError converts an ingest failure to a gRPC status error.
func statusError(err error) error {
	return status.Error(grpcCode(err), err.Error())
}

// batchStatus classifies one batch item failure.
// Rejected means the request itself or current load is the problem and the
// client may resend later; error means the service could not take it at all.
func batchStatus(err error) string {
	switch grpcCode(err) {
	case codes.InvalidArgument, codes.ResourceExhausted:
		return StatusRejected
	default:
		return StatusError
	}
}
