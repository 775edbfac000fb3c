package vector

import (
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a transport failure for retry decisions.
type Kind int

const (
	// KindPermanent failures will not succeed on retry.
	KindPermanent Kind = iota
	// KindRetryable failures are transient connectivity issues.
	KindRetryable
	// KindNotFound means the target collection does not exist.
	KindNotFound
	// KindAlreadyExists means a create hit an existing collection.
	KindAlreadyExists
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	default:
		return "permanent"
	}
}

// transientMarkers are substrings indicating connectivity-level failures when
// no structured status code is available.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"handshake",
	"connection refused",
	"connection reset",
	"connection closed",
	"tls",
	"ssl",
	"unavailable",
	"broken pipe",
	"no such host",
}

// Classify maps a transport error onto a Kind. gRPC status codes are
// authoritative; the substring scan is a fallback for wrapped or plain errors.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return KindRetryable
		case codes.NotFound:
			return KindNotFound
		case codes.AlreadyExists:
			return KindAlreadyExists
		case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
			return KindPermanent
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return KindRetryable
		}
	}
	if strings.Contains(msg, "not found") || strings.Contains(msg, "doesn't exist") {
		return KindNotFound
	}
	if strings.Contains(msg, "already exists") {
		return KindAlreadyExists
	}
	return KindPermanent
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return Classify(err) == KindRetryable
}

// ErrCollectionNotFound is returned when an operation targets a collection
// that does not exist and cannot be created implicitly.
var ErrCollectionNotFound = errors.New("collection not found")
