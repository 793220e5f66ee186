package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMiddlewareResolvesWithoutMetering(t *testing.T) {
	ledger := &fakeLedger{}
	resolver, _ := newTestResolver(&fakeKeys{}, ledger)

	var seen *Identity
	handler := resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen, _ = IdentityFrom(req.Context())
	}))

	w := serve(handler, requestWith("shared-default-secret", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if seen == nil || seen.Tier != TierDefaultKey {
		t.Fatalf("identity = %+v, want default key", seen)
	}
	if ledger.calls != 0 {
		t.Errorf("ledger calls = %d, resolving alone must not charge the allowance", ledger.calls)
	}
}

func TestMiddlewareRejectsUnknownCaller(t *testing.T) {
	resolver, _ := newTestResolver(&fakeKeys{}, &fakeLedger{})
	handler := resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if w := serve(handler, requestWith("not-the-secret", "")); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMeterMiddlewareChargesDefaultKey(t *testing.T) {
	ledger := &fakeLedger{}
	resolver, _ := newTestResolver(&fakeKeys{}, ledger)

	handler := resolver.MeterMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	id := &Identity{UserID: "user-7", Tier: TierDefaultKey}
	req := httptest.NewRequest(http.MethodPost, "/api/workflows/run-all", nil)
	req = req.WithContext(WithIdentity(req.Context(), id))

	// The resolver's limit is 2; the third invocation is turned away.
	for i := 0; i < 2; i++ {
		if w := serve(handler, req); w.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d, want 200", i+1, w.Code)
		}
	}
	if w := serve(handler, req); w.Code != http.StatusTooManyRequests {
		t.Errorf("over-limit status = %d, want 429", w.Code)
	}
	if ledger.calls != 3 {
		t.Errorf("ledger calls = %d, want 3", ledger.calls)
	}
}

func TestMeterMiddlewareRejectsAnonymousDefaultKey(t *testing.T) {
	resolver, _ := newTestResolver(&fakeKeys{}, &fakeLedger{})

	handler := resolver.MeterMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/workflows/run-all", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{Tier: TierDefaultKey}))

	if w := serve(handler, req); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a default key with no user", w.Code)
	}
}
