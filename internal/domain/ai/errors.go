package ai

import "errors"

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrUnsupportedMedia indicates an upload whose type is neither image/* nor
// video/*; it is rejected before any model call is made.
var ErrUnsupportedMedia = errors.New("unsupported media type")
