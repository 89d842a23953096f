package status

import "errors"

// ErrUnauthorized marks a 401/403 from the backend. It is authoritative:
// retrying the same credential cannot succeed, so both the poller and the
// stream stop instead of retrying against it.
var ErrUnauthorized = errors.New("status: credential rejected")

// ErrStreamUnavailable is the generic connectivity error surfaced to OnError
// while the push channel is down. Detailed transport diagnostics are not part
// of the contract.
var ErrStreamUnavailable = errors.New("status: stream connection lost")
