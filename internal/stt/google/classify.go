package google

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rbright/murmur/internal/stt"
)

// classify maps a transport failure onto the recognition error taxonomy.
// Credential problems are the only non-recoverable class; everything else
// leaves the recognizer usable for another attempt.
func classify(err error) *stt.Error {
	if err == nil {
		return nil
	}

	if s, ok := status.FromError(err); ok && s.Code() != codes.OK {
		switch s.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return stt.NewError(stt.KindAuthentication, "speech service rejected the credential", err)
		case codes.Unavailable:
			return stt.NewError(stt.KindNetwork, "speech service is unreachable", err)
		case codes.DeadlineExceeded:
			return stt.NewError(stt.KindTimeout, "speech service deadline exceeded", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return stt.NewError(stt.KindTimeout, "recognition timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return stt.NewError(stt.KindTimeout, "recognition connection timed out", err)
		}
		return stt.NewError(stt.KindNetwork, "recognition connection failed", err)
	}

	return stt.NewError(stt.KindRecognitionFailed, "recognition stream failed", err)
}
