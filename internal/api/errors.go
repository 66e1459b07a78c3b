package api

import (
	"context"
	"errors"

	"github.com/bibswap/swapchat/internal/convo"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ErrorDomain marks ErrorInfo details produced by this service.
const ErrorDomain = "swapchat"

var grpcCodes = map[convo.ErrorCode]codes.Code{
	convo.CodeUnauthorized:           codes.PermissionDenied,
	convo.CodeNotFound:               codes.NotFound,
	convo.CodeBlocked:                codes.FailedPrecondition,
	convo.CodeValidation:             codes.InvalidArgument,
	convo.CodeTransientStore:         codes.Unavailable,
	convo.CodeTranslationUnavailable: codes.Unavailable,
}

// toStatus converts a service error into a gRPC status carrying the taxonomy
// code as ErrorInfo.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	var ce *convo.Error
	if !errors.As(err, &ce) {
		switch {
		case errors.Is(err, context.Canceled):
			return grpcstatus.Error(codes.Canceled, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
		}
		return grpcstatus.Errorf(codes.Internal, "internal error: %v", err)
	}
	code, ok := grpcCodes[ce.Code]
	if !ok {
		code = codes.Unknown
	}
	msg := ce.Reason
	if msg == "" {
		msg = string(ce.Code)
	}
	st, detErr := grpcstatus.New(code, msg).WithDetails(&errdetails.ErrorInfo{
		Reason: string(ce.Code),
		Domain: ErrorDomain,
	})
	if detErr != nil {
		return grpcstatus.Error(code, msg)
	}
	return st.Err()
}

// FromStatus converts a gRPC error back into a *convo.Error when it carries
// the taxonomy code. Missing or invalid sessions become Unauthorized.
func FromStatus(err error) error {
	st, ok := grpcstatus.FromError(err)
	if !ok || err == nil {
		return err
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == ErrorDomain {
			return convo.NewError(convo.ErrorCode(info.Reason), st.Message(), nil)
		}
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return convo.NewError(convo.CodeUnauthorized, st.Message(), err)
	case codes.Unavailable:
		return convo.NewError(convo.CodeTransientStore, st.Message(), err)
	}
	return err
}
