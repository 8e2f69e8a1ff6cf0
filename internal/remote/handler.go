package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// maxWriteBody caps the size of a mutation request body.
const maxWriteBody = 1 << 20

// Handler serves an Authority over the HTTP API the Client speaks:
//
//	POST /v1/{entity}/mutations
//	GET  /v1/{entity}/changes?since=<ms>&limit=<n>
//	GET  /healthz
type Handler struct {
	authority Authority
	logger    *slog.Logger
	mux       *http.ServeMux
}

// NewHandler creates a handler for authority. A nil logger uses
// slog.Default().
func NewHandler(authority Authority, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{authority: authority, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /v1/{entity}/mutations", h.handleWrite)
	h.mux.HandleFunc("GET /v1/{entity}/changes", h.handleChanges)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request) {
	et, ok := h.entity(w, r)
	if !ok {
		return
	}

	var body writeBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxWriteBody))
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && body.MutationID == "" {
		body.MutationID = key
	}
	req, err := decodeWrite(et, body)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	ack, err := h.authority.Write(r.Context(), bearer(r), req)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	h.logger.Info("mutation applied",
		"entity_type", et,
		"mutation_id", req.MutationID,
		"operation", req.Operation,
		"server_id", ack.ServerID,
	)
	h.writeJSON(w, ackBody{ServerID: ack.ServerID, UpdatedAt: record.Millis(ack.UpdatedAt)})
}

func (h *Handler) handleChanges(w http.ResponseWriter, r *http.Request) {
	et, ok := h.entity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	since, err := parseInt(q.Get("since"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
		return
	}
	limit, err := parseInt(q.Get("limit"))
	if err != nil || limit < 0 {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("limit: invalid value %q", q.Get("limit")))
		return
	}

	cs, err := h.authority.Changes(r.Context(), bearer(r), ChangesRequest{
		EntityType: et,
		Since:      record.FromMillis(since),
		Limit:      int(limit),
	})
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	body, err := encodeChangeSet(cs)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, body)
}

func (h *Handler) entity(w http.ResponseWriter, r *http.Request) (record.EntityType, bool) {
	et, err := record.ParseEntityType(r.PathValue("entity"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return "", false
	}
	return et, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Debug("request failed", "status", status, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error()})
}

// statusFor maps an authority error to its HTTP status.
func statusFor(err error) int {
	switch syncerr.KindOf(err) {
	case syncerr.KindValidation:
		return http.StatusUnprocessableEntity
	case syncerr.KindAuth:
		return http.StatusUnauthorized
	case syncerr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return ""
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.New("not an integer")
	}
	return n, nil
}
