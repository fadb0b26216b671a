// Package transport is the HTTP client a store node uses to talk to the
// central authority.
//
// Every call runs under its own timeout derived from the caller's context.
// Failures are classified into two kinds:
//
//   - KindTransient: the request never produced a usable answer (dial
//     errors, timeouts, cancelled contexts, 429 and gateway 5xx responses).
//     Callers retry later.
//   - KindRejected: the central authority answered and refused the request
//     (any other status >= 400). Retrying the same payload will not help.
package transport
