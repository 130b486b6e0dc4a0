package reliability

import (
	"context"
	"errors"
	"time"
)

// Failure taxonomy shared by every collaborator boundary.
var (
	ErrUnrecognizedAudio        = errors.New("unrecognized audio")
	ErrSpeechServiceUnavailable = errors.New("speech service unavailable")
	ErrCompletionService        = errors.New("completion service failure")
	ErrEmbeddingService         = errors.New("embedding service failure")
	ErrStoreUpsert              = errors.New("store upsert failure")
	ErrCollectionProvision      = errors.New("collection provision failure")
	ErrSpeechSynthesis          = errors.New("speech synthesis failure")

	// ErrPermanent marks a failure that will not succeed on retry.
	ErrPermanent = errors.New("permanent failure")
)

// Classification describes a failure for reporting and metrics labels.
type Classification struct {
	Source    string
	Code      string
	Retryable bool
}

// Classify maps an error onto the failure taxonomy.
func Classify(err error) Classification {
	c := classify(err)
	if errors.Is(err, ErrPermanent) {
		c.Retryable = false
	}
	return c
}

func classify(err error) Classification {
	switch {
	case err == nil:
		return Classification{}
	case errors.Is(err, ErrUnrecognizedAudio):
		return Classification{Source: "stt", Code: "unrecognized_audio", Retryable: true}
	case errors.Is(err, ErrSpeechServiceUnavailable):
		return Classification{Source: "stt", Code: "speech_service_unavailable", Retryable: true}
	case errors.Is(err, ErrCompletionService):
		return Classification{Source: "llm", Code: completionCode(err), Retryable: true}
	case errors.Is(err, ErrEmbeddingService):
		return Classification{Source: "memory", Code: "embedding_failed", Retryable: true}
	case errors.Is(err, ErrStoreUpsert):
		return Classification{Source: "memory", Code: "upsert_failed", Retryable: true}
	case errors.Is(err, ErrCollectionProvision):
		return Classification{Source: "memory", Code: "provision_failed", Retryable: false}
	case errors.Is(err, ErrSpeechSynthesis):
		return Classification{Source: "tts", Code: "synthesis_failed", Retryable: true}
	default:
		return Classification{Source: "internal", Code: "unknown", Retryable: false}
	}
}

func completionCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "completion_timeout"
	}
	return "completion_failed"
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
