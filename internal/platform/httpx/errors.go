package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Every business-rule rejection carries enough structured detail to act on;
// unrecognized errors become an opaque 500 and are expected to be logged by
// the handler.
func RespondError(w http.ResponseWriter, err error) {
	var (
		stateErr       *shared.StateError
		conflictErr    *shared.ConflictError
		referenceErr   *shared.ReferenceError
		unbalancedErr  *shared.UnbalancedError
		capErr         *shared.CapError
		validationErrs validator.ValidationErrors
	)
	switch {
	case errors.As(err, &validationErrs):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", validationErrs.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "resource not found")
	case errors.As(err, &stateErr):
		Problem(w, http.StatusConflict, "Invalid State Transition", stateErr.Error())
	case errors.As(err, &conflictErr):
		ProblemWith(w, http.StatusConflict, "Already Taken", conflictErr.Error(), map[string]any{
			"field": conflictErr.Field,
		})
	case errors.As(err, &referenceErr):
		ProblemWith(w, http.StatusUnprocessableEntity, "Invalid Reference", referenceErr.Error(), map[string]any{
			"field": referenceErr.Field,
		})
	case errors.As(err, &unbalancedErr):
		ProblemWith(w, http.StatusUnprocessableEntity, "Unbalanced Entry", unbalancedErr.Error(), map[string]any{
			"debit_cents":  unbalancedErr.DebitCents,
			"credit_cents": unbalancedErr.CreditCents,
		})
	case errors.As(err, &capErr):
		ProblemWith(w, http.StatusUnprocessableEntity, "Credit Exceeds Invoice", capErr.Error(), map[string]any{
			"invoice_cents":   capErr.InvoiceCents,
			"issued_cents":    capErr.IssuedCents,
			"requested_cents": capErr.RequestedCents,
			"remaining_cents": capErr.RemainingCents,
		})
	case errors.Is(err, shared.ErrAlreadyPosted):
		Problem(w, http.StatusConflict, "Already Posted", err.Error())
	case errors.Is(err, shared.ErrBadDecimal):
		Problem(w, http.StatusBadRequest, "Invalid Amount", err.Error())
	case errors.Is(err, shared.ErrMissingTenant):
		Problem(w, http.StatusBadRequest, "Missing Tenant", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
