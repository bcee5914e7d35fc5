package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/NStream-Network/stream_layer/internal/app"
	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
	"github.com/NStream-Network/stream_layer/internal/app/services/streams"
	"github.com/NStream-Network/stream_layer/internal/middleware"
)

// handler bundles HTTP endpoints for the ledger services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the core REST API. Every mutating
// endpoint requires a caller identity attached by the auth middleware.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	r := mux.NewRouter()

	r.HandleFunc("/accounts", h.registerAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts", h.listAccounts).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{owner}", h.getAccount).Methods(http.MethodGet)

	r.HandleFunc("/streams", h.createStream).Methods(http.MethodPost)
	r.HandleFunc("/streams", h.listStreams).Methods(http.MethodGet)
	r.HandleFunc("/streams/{id}", h.getStream).Methods(http.MethodGet)
	r.HandleFunc("/streams/{id}/transfers", h.listTransfers).Methods(http.MethodGet)
	r.HandleFunc("/streams/{id}/update", h.updateStream).Methods(http.MethodPost)
	r.HandleFunc("/streams/{id}/pause", h.pauseStream).Methods(http.MethodPost)
	r.HandleFunc("/streams/{id}/resume", h.resumeStream).Methods(http.MethodPost)
	r.HandleFunc("/streams/{id}/withdraw", h.withdraw).Methods(http.MethodPost)
	r.HandleFunc("/streams/{id}/cancel", h.cancelStream).Methods(http.MethodPost)
	r.HandleFunc("/streams/{id}/claim", h.claimStream).Methods(http.MethodPost)

	r.HandleFunc("/transfers/{id}/resolve", h.resolveTransfer).Methods(http.MethodPost)

	r.HandleFunc("/fees", h.listFees).Methods(http.MethodGet)
	r.HandleFunc("/fees/claim", h.claimFees).Methods(http.MethodPost)

	r.HandleFunc("/maintenance/collect", h.collectStreams).Methods(http.MethodPost)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return r
}

func (h *handler) registerAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Deposit int64 `json:"deposit"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Accounts.Register(r.Context(), caller(r), payload.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.app.Accounts.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, accts)
}

func (h *handler) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Accounts.Get(r.Context(), mux.Vars(r)["owner"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) createStream(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Receiver  string `json:"receiver"`
		Asset     string `json:"asset"`
		Rate      int64  `json:"rate"`
		StartTime int64  `json:"start_time"`
		EndTime   int64  `json:"end_time"`
		Deposit   int64  `json:"deposit"`
		CanPause  bool   `json:"can_pause"`
		CanCancel bool   `json:"can_cancel"`
		CanUpdate bool   `json:"can_update"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	st, err := h.app.Streams.Create(r.Context(), caller(r), streams.CreateParams{
		Receiver:  payload.Receiver,
		Asset:     stream.Asset(payload.Asset),
		Rate:      payload.Rate,
		StartTime: payload.StartTime,
		EndTime:   payload.EndTime,
		Deposit:   payload.Deposit,
		CanPause:  payload.CanPause,
		CanCancel: payload.CanCancel,
		CanUpdate: payload.CanUpdate,
	})
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *handler) listStreams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := h.app.Streams.List(r.Context(), q.Get("party"), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getStream(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Streams.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.app.Streams.ListTransfers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (h *handler) updateStream(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Rate      *int64 `json:"rate"`
		StartTime *int64 `json:"start_time"`
		EndTime   *int64 `json:"end_time"`
		Deposit   int64  `json:"deposit"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	st, err := h.app.Streams.Update(r.Context(), caller(r), mux.Vars(r)["id"], streams.UpdateParams{
		Rate:      payload.Rate,
		StartTime: payload.StartTime,
		EndTime:   payload.EndTime,
		Deposit:   payload.Deposit,
	})
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) pauseStream(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Streams.Pause(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) resumeStream(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Streams.Resume(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	st, t, err := h.app.Streams.Withdraw(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, operationResult(st, t))
}

func (h *handler) cancelStream(w http.ResponseWriter, r *http.Request) {
	st, t, err := h.app.Streams.Cancel(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, operationResult(st, t))
}

func (h *handler) claimStream(w http.ResponseWriter, r *http.Request) {
	st, t, err := h.app.Streams.Claim(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, operationResult(st, t))
}

func (h *handler) resolveTransfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	st, t, err := h.app.Streams.ResolveTransfer(r.Context(), mux.Vars(r)["id"], payload.Success, payload.Reason)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, operationResult(st, t))
}

func (h *handler) listFees(w http.ResponseWriter, r *http.Request) {
	balances, err := h.app.Fees.Balances(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (h *handler) claimFees(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Asset string `json:"asset"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Asset) == "" {
		payload.Asset = string(stream.AssetNative)
	}

	bal, err := h.app.Fees.Claim(r.Context(), caller(r), payload.Asset)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (h *handler) collectStreams(w http.ResponseWriter, r *http.Request) {
	collected, err := h.app.Streams.CollectEnded(r.Context(), caller(r))
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"collected": collected})
}

func caller(r *http.Request) string {
	return middleware.Caller(r.Context())
}

func operationResult(st stream.Stream, t stream.Transfer) any {
	if t.ID == "" {
		return map[string]any{"stream": st}
	}
	return map[string]any{"stream": st, "transfer": t}
}

var stateErrors = []error{
	stream.ErrAlreadyPaused,
	stream.ErrNotPaused,
	stream.ErrAlreadyCancelled,
	stream.ErrNotCancelled,
	stream.ErrAlreadyWithdrawn,
	stream.ErrNotStarted,
	stream.ErrAlreadyStarted,
	stream.ErrNotEnded,
	stream.ErrEnded,
	stream.ErrNothingDue,
	stream.ErrCannotPause,
	stream.ErrCannotCancel,
	stream.ErrCannotUpdate,
}

// statusFor maps the error taxonomy onto HTTP statuses: locked and state
// errors are conflicts, authorization failures are forbidden, invariant
// violations are server faults, everything else keeps the fallback.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, stream.ErrStreamLocked):
		return http.StatusConflict
	case errors.Is(err, stream.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, stream.ErrInvariantViolation):
		return http.StatusInternalServerError
	}
	for _, state := range stateErrors {
		if errors.Is(err, state) {
			return http.StatusConflict
		}
	}
	if strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}
	return fallback
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
