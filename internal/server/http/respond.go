package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/memgate/internal/errs"
)

const maxBodyBytes = 1 << 16

type errorBody struct {
	Error             string `json:"error"`
	Message           string `json:"message,omitempty"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
	RetryAfter        int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

// writeError maps service errors onto the HTTP taxonomy. Every 4xx is
// counted as a rejection under its reason code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= 500 {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	} else {
		s.metrics.Reject(body.Error)
	}
	if body.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	var (
		locked *errs.LockedError
		pass   *errs.PassphraseError
	)
	switch {
	case errors.As(err, &locked):
		secs := ceilSeconds(locked.RetryAfter)
		return http.StatusTooManyRequests, errorBody{
			Error:      errs.ErrAccountLocked.Error(),
			Message:    fmt.Sprintf("Account locked after repeated failures. Try again in %d minute(s).", (secs+59)/60),
			RetryAfter: secs,
		}
	case errors.As(err, &pass):
		n := pass.AttemptsRemaining
		return http.StatusUnauthorized, errorBody{
			Error:             errs.ErrInvalidPassphrase.Error(),
			Message:           "Invalid passphrase",
			AttemptsRemaining: &n,
		}
	case errors.Is(err, errs.ErrInvalidChallenge),
		errors.Is(err, errs.ErrChallengeReused),
		errors.Is(err, errs.ErrChallengeExpired):
		return http.StatusBadRequest, errorBody{Error: rootCode(err), Message: "Request a new challenge via POST /auth/knock"}
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, errorBody{Error: "malformed", Message: err.Error()}
	case errors.Is(err, errs.ErrInvalidAPIKey):
		return http.StatusUnauthorized, errorBody{Error: "invalid_api_key", Message: "Invalid API key"}
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, errorBody{
			Error:   "unauthorized",
			Message: "API key required. Obtain one with POST /auth/knock followed by POST /auth/exchange",
		}
	case errors.Is(err, errs.ErrInvalidToken):
		return http.StatusUnauthorized, errorBody{Error: errs.ErrInvalidToken.Error(), Message: "Recovery token is invalid or expired"}
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, errorBody{Error: "already_exists", Message: "User already exists"}
	case errors.Is(err, errs.ErrNoBehavioralData):
		return http.StatusNotFound, errorBody{Error: errs.ErrNoBehavioralData.Error(), Message: "No behavioral profiles to compare against"}
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Message: "Not found"}
	case errors.Is(err, errs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: "store_unavailable", Message: "Durable store unavailable"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal", Message: "Internal server error"}
	}
}

func rootCode(err error) string {
	for _, s := range []error{errs.ErrInvalidChallenge, errs.ErrChallengeReused, errs.ErrChallengeExpired} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}

func ceilSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
