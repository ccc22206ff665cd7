package handler

import (
	"errors"

	"wealthcheck/internal/casework/models"
	dErrors "wealthcheck/pkg/domain-errors"
	"wealthcheck/pkg/platform/sentinel"
)

// translateError maps the orchestrator's error taxonomy onto domain codes so
// httputil.WriteError can pick a status. Coded errors pass through.
func translateError(err error) error {
	var invalidResume *models.InvalidResumeError
	if errors.As(err, &invalidResume) {
		return dErrors.Wrap(err, dErrors.CodeConflict, invalidResume.Reason)
	}
	var persistence *models.PersistenceError
	if errors.As(err, &persistence) {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "case was modified concurrently")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "case store unavailable")
	}
	var invariant *models.InvariantViolationError
	if errors.As(err, &invariant) {
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "case invariant violated")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "internal error")
}
