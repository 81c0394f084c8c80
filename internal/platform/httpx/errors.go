package httpx

import (
	"net/http"

	"github.com/odyssey-erp/warden/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. The
// failing predicate, when present, is carried as the problem type so
// clients can distinguish guardrail rejections without parsing text.
func RespondError(w http.ResponseWriter, err error) {
	detail := err.Error()
	predicate := shared.PredicateOf(err)
	switch shared.KindOf(err) {
	case shared.KindValidation:
		problemWithType(w, http.StatusBadRequest, "Validation Failed", detail, predicate)
	case shared.KindConflict:
		problemWithType(w, http.StatusConflict, "Conflict", detail, predicate)
	case shared.KindDenied:
		problemWithType(w, http.StatusForbidden, "Forbidden", detail, predicate)
	case shared.KindProtection:
		problemWithType(w, http.StatusForbidden, "Protection Violation", detail, predicate)
	case shared.KindRateLimited:
		problemWithType(w, http.StatusTooManyRequests, "Rate Limited", detail, predicate)
	case shared.KindNotFound:
		problemWithType(w, http.StatusNotFound, "Not Found", detail, "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func problemWithType(w http.ResponseWriter, status int, title, detail, predicate string) {
	JSON(w, status, ProblemDetail{
		Type:   predicate,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
