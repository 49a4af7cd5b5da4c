package llm

import "errors"

// ErrLLMUnavailable is returned without calling the provider while the
// circuit breaker is open.
var ErrLLMUnavailable = errors.New("llm unavailable")
