package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names the remote operation that failed.
type Kind string

const (
	KindSentiment     Kind = "sentiment"
	KindFace          Kind = "facial-expression"
	KindVoice         Kind = "voice-tone"
	KindTranscription Kind = "transcription"
	KindTranslation   Kind = "translation"
	KindReply         Kind = "adaptive-reply"
	KindSpeech        Kind = "speech-synthesis"
	KindAvatarImage   Kind = "avatar-image"
	KindAvatarVideo   Kind = "avatar-video"
)

// ErrVideoTimedOut terminates video-generation polling once the configured
// maximum wait elapses.
var ErrVideoTimedOut = errors.New("gateway: video generation timed out")

// RemoteError wraps any failure surfaced by a remote analysis or generation
// call. The gateway performs no retries; retry policy belongs to the remote
// service.
type RemoteError struct {
	Kind  Kind
	Cause error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gateway: %s failed: %v", e.Kind, e.Cause)
}

func (e *RemoteError) Unwrap() error { return e.Cause }

func remoteErr(kind Kind, cause error) error {
	return &RemoteError{Kind: kind, Cause: cause}
}

// FailedKind extracts the operation kind from a wrapped RemoteError, or ""
// when err came from somewhere else.
func FailedKind(err error) Kind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsRateLimited reports whether the failure cause indicates request
// throttling, e.g. an HTTP 429 or a quota exhaustion message.
func IsRateLimited(err error) bool {
	return causeContains(err, "429", "rate limit", "ratelimit", "quota", "resource_exhausted", "resource exhausted")
}

// IsBillingRestricted reports whether the failure cause indicates the
// account is not allowed to use the operation.
func IsBillingRestricted(err error) bool {
	return causeContains(err, "billing")
}

func causeContains(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
