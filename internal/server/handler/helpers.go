package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/server/middleware"
)

// maxBody bounds decoded request bodies.
const maxBody = 64 << 10

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON marshals v and writes it with status. A marshal failure becomes
// a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"Internal","message":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// statusOf maps a ledger error class to its HTTP status.
func statusOf(class domain.ErrorClass) int {
	switch class {
	case domain.ClassAuthorization:
		return http.StatusForbidden
	case domain.ClassValidation:
		return http.StatusBadRequest
	case domain.ClassState:
		return http.StatusConflict
	case domain.ClassVerification, domain.ClassEconomic:
		return http.StatusUnprocessableEntity
	case domain.ClassNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports a ledger error with its code, and anything else
// as an opaque 500 after logging it.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var le *domain.LedgerError
	if errors.As(err, &le) {
		writeError(w, statusOf(le.Class), le.Code, le.Message)
		return
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("request_id", middleware.RequestID(r.Context())),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "Internal", "internal server error")
}

// decodeBody strictly decodes a JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// requireCaller returns the signed caller or writes a 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", "this endpoint requires a signed request")
	}
	return id, ok
}

// marketID parses the {id} path value.
func marketID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "market id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

// identityParam parses an address path value.
func identityParam(w http.ResponseWriter, r *http.Request, name string) (domain.Identity, bool) {
	id, err := domain.ParseIdentity(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return domain.Identity{}, false
	}
	return id, true
}

// parseListOpts reads limit, offset, status, since and until. Defaults:
// limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("limit must be a positive integer")
		}
		opts.Limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	switch s := domain.MarketStatus(q.Get("status")); s {
	case "", domain.MarketStatusOpen, domain.MarketStatusResolved:
		opts.Status = s
	default:
		return opts, fmt.Errorf("status must be open or resolved")
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return opts, fmt.Errorf("%s must be RFC 3339", name)
			}
			*dst = &t
		}
	}
	return opts, nil
}
