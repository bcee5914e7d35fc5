package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	app "github.com/NStream-Network/stream_layer/internal/app"
	feesvc "github.com/NStream-Network/stream_layer/internal/app/services/fees"
	streamsvc "github.com/NStream-Network/stream_layer/internal/app/services/streams"
	"github.com/NStream-Network/stream_layer/internal/middleware"
)

type fakeClock struct{ now int64 }

func (c *fakeClock) Now() int64 { return c.now }

func newTestServer(t *testing.T, clock *fakeClock) http.Handler {
	t.Helper()
	core, err := app.New(app.Stores{}, app.Options{
		Clock: clock,
		Fees:  feesvc.Config{RateBps: 25, Recipient: "platform"},
	}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	auth := middleware.NewAuthenticator("")
	return auth.Handler(NewHandler(core))
}

func doRequest(t *testing.T, h http.Handler, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("{}")
	}

	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStreamLifecycleOverHTTP(t *testing.T) {
	clock := &fakeClock{now: 100}
	h := newTestServer(t, clock)

	// unauthenticated requests are rejected outright
	rec := doRequest(t, h, http.MethodGet, "/streams", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	create := map[string]any{
		"receiver":   "bob",
		"rate":       1,
		"start_time": 100,
		"end_time":   110,
		"deposit":    10,
		"can_pause":  true,
		"can_cancel": true,
	}
	rec = doRequest(t, h, http.MethodPost, "/streams", "alice", create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID      string
		Balance int64
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" || created.Balance != 10 {
		t.Fatalf("unexpected create response: %s", rec.Body.String())
	}

	// deposit mismatch is a validation failure
	bad := map[string]any{"receiver": "bob", "rate": 1, "start_time": 100, "end_time": 110, "deposit": 9}
	rec = doRequest(t, h, http.MethodPost, "/streams", "alice", bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad create: expected 400, got %d", rec.Code)
	}

	// receiver cannot pause
	clock.now = 104
	path := fmt.Sprintf("/streams/%s/pause", created.ID)
	rec = doRequest(t, h, http.MethodPost, path, "bob", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("receiver pause: expected 403, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodPost, path, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	// pausing twice is a state conflict
	rec = doRequest(t, h, http.MethodPost, path, "alice", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double pause: expected 409, got %d", rec.Code)
	}

	clock.now = 106
	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/streams/%s/resume", created.ID), "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}

	clock.now = 108
	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/streams/%s/withdraw", created.ID), "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Stream struct {
			Balance         int64
			WithdrawnAmount int64
		}
		Transfer struct {
			Amount int64
			Status string
		}
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode withdraw response: %v", err)
	}
	// paused 104-106, so only 6 of the 8 elapsed seconds accrued
	if result.Transfer.Amount != 6 || result.Stream.Balance != 4 {
		t.Fatalf("unexpected withdraw result: %s", rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, fmt.Sprintf("/streams/%s/transfers", created.ID), "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list transfers: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/streams/999", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing stream: expected 404, got %d", rec.Code)
	}
}

func TestAccountAndFeeEndpoints(t *testing.T) {
	clock := &fakeClock{now: 0}
	h := newTestServer(t, clock)

	rec := doRequest(t, h, http.MethodPost, "/accounts", "alice", map[string]any{"deposit": streamsvc.DefaultStorageUnitsPerStream})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/accounts/alice", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get account: expected 200, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/accounts/ghost", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing account: expected 404, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/fees", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list fees: expected 200, got %d", rec.Code)
	}

	// only the configured recipient may claim fees
	rec = doRequest(t, h, http.MethodPost, "/fees/claim", "alice", map[string]any{"asset": "native"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("claim by non-recipient: expected 403, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/healthz", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
}
