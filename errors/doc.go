/*

Package errors implements the taxonomy of failures surfaced by the
authorization engine.

Each failure mode is a registered root error with a unique code. Runtime
errors are created by wrapping a root with Wrap or Wrapf and are classified
with the root's Is method:

	if errors.ErrConflict.Is(err) {
		// re-read current state and retry
	}

Validation, not-found and conflict class errors are never retried by the
engine. Transient infrastructure errors may be retried by the caller with
backoff. Reconciliation errors must never be swallowed.

*/
package errors
