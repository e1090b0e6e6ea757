package api

import (
	"context"
	"errors"

	"github.com/matheus3301/lined/internal/chat"
	"github.com/matheus3301/lined/internal/directory"
	"github.com/matheus3301/lined/internal/talk"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps domain errors onto gRPC codes for API clients.
func toStatus(err error) error {
	var (
		terr *talk.TransportError
		aerr *talk.AuthError
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, directory.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, chat.ErrNotImage):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, talk.ErrSessionSuperseded), errors.As(err, &aerr):
		return grpcstatus.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, talk.ErrTimeout):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.As(err, &terr):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
