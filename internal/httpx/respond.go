package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ventittlas/storefront/internal/sales"
)

// KindDuplicateSubmission is returned while an earlier request with the same
// Idempotency-Key is still running.
const KindDuplicateSubmission sales.Kind = "DuplicateSubmission"

type errorBody struct {
	ErrorKind sales.Kind        `json:"error_kind"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	ProductID int64             `json:"product_id,omitempty"`
	Available *int              `json:"available,omitempty"`
	Requested *int              `json:"requested,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(k sales.Kind) int {
	switch k {
	case sales.KindInvalidRequest:
		return http.StatusBadRequest
	case sales.KindUnauthenticated:
		return http.StatusUnauthorized
	case sales.KindProductNotFound:
		return http.StatusNotFound
	case sales.KindInsufficientStock, KindDuplicateSubmission:
		return http.StatusConflict
	case sales.KindPriceMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

// writeError renders any checkout failure; errors outside the taxonomy are
// reported as StorageUnavailable without leaking their text.
func writeError(w http.ResponseWriter, err error) {
	var se *sales.Error
	if !errors.As(err, &se) {
		se = &sales.Error{Kind: sales.KindStorageUnavailable, Message: "storage unavailable"}
	}

	body := errorBody{ErrorKind: se.Kind, Message: se.Message, Details: se.Fields}
	switch se.Kind {
	case sales.KindInsufficientStock:
		body.ProductID = se.ProductID
		body.Available, body.Requested = &se.Available, &se.Requested
	case sales.KindProductNotFound, sales.KindPriceMismatch:
		body.ProductID = se.ProductID
	case sales.KindStorageUnavailable:
		body.Message = "storage unavailable, retry later"
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusFor(se.Kind), body)
}

func writeKind(w http.ResponseWriter, k sales.Kind, msg string) {
	writeJSON(w, statusFor(k), errorBody{ErrorKind: k, Message: msg})
}
