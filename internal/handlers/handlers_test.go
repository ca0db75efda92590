package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/quickreach/backend/internal/auth"
	"github.com/quickreach/backend/internal/backend"
	"github.com/quickreach/backend/internal/models"
	"github.com/quickreach/backend/internal/syncer"
)

type testAPI struct {
	server *httptest.Server
	store  *backend.MemoryStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	manager := auth.NewManager([]byte("handler-test-secret"), time.Minute, time.Hour, auth.NewInMemorySessionStore())
	accounts := auth.NewService(auth.NewInMemoryUserStore(), manager)
	store := backend.NewMemoryStore()

	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{
		Accounts:    accounts,
		Requests:    syncer.NewSynchronizer(store),
		Tokens:      accounts,
		BackendName: "memory",
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testAPI{server: server, store: store}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

func (a *testAPI) signUp(t *testing.T, email string) authResponse {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/api/v1/auth/signup", "", credentialsRequest{Email: email, Password: "secret1"})
	if status != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", email, status, body)
	}
	var resp authResponse
	decode(t, body, &resp)
	return resp
}

func decode(t *testing.T, body []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func chickenjoy() syncer.NewRequest {
	return syncer.NewRequest{
		ItemName:        "Chickenjoy",
		Category:        "Food",
		PickupLocation:  "Jollibee",
		DropoffLocation: "Dorm 4",
		Price:           150,
		Priority:        80,
	}
}

func TestHealthHandler(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected status 200 got %d", status)
	}
	var payload map[string]string
	decode(t, body, &payload)
	if payload["status"] != "ok" || payload["backend"] != "memory" {
		t.Fatalf("unexpected payload %v", payload)
	}

	if status, _ := api.do(t, http.MethodPost, "/healthz", "", nil); status != http.StatusMethodNotAllowed {
		t.Fatalf("expected method not allowed got %d", status)
	}
}

func TestAuthFlow(t *testing.T) {
	api := newTestAPI(t)

	created := api.signUp(t, "Rider@Example.com")
	if created.Email != "rider@example.com" || created.Tokens.AccessToken == "" || created.Tokens.RefreshToken == "" {
		t.Fatalf("unexpected signup response %+v", created)
	}

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{name: "duplicate signup", path: "/api/v1/auth/signup", body: credentialsRequest{Email: "rider@example.com", Password: "secret1"}, status: http.StatusConflict, code: "already_exists"},
		{name: "weak password", path: "/api/v1/auth/signup", body: credentialsRequest{Email: "new@example.com", Password: "123"}, status: http.StatusBadRequest, code: "weak_credential"},
		{name: "invalid email", path: "/api/v1/auth/signup", body: credentialsRequest{Email: "nope", Password: "secret1"}, status: http.StatusBadRequest, code: "invalid_email"},
		{name: "wrong password", path: "/api/v1/auth/login", body: credentialsRequest{Email: "rider@example.com", Password: "wrong!"}, status: http.StatusUnauthorized, code: "invalid_credentials"},
		{name: "unknown account", path: "/api/v1/auth/login", body: credentialsRequest{Email: "ghost@example.com", Password: "secret1"}, status: http.StatusUnauthorized, code: "invalid_credentials"},
		{name: "unknown field", path: "/api/v1/auth/login", body: map[string]string{"username": "rider"}, status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := api.do(t, http.MethodPost, tc.path, "", tc.body)
			if status != tc.status {
				t.Fatalf("expected status %d got %d: %s", tc.status, status, body)
			}
			var resp errorResponse
			decode(t, body, &resp)
			if resp.Code != tc.code || resp.Error == "" {
				t.Fatalf("unexpected error body %+v", resp)
			}
		})
	}

	status, body := api.do(t, http.MethodPost, "/api/v1/auth/login", "", credentialsRequest{Email: "rider@example.com", Password: "secret1"})
	if status != http.StatusOK {
		t.Fatalf("login: status %d body %s", status, body)
	}
	var session authResponse
	decode(t, body, &session)
	if session.UserID != created.UserID {
		t.Fatalf("expected same user, got %s vs %s", session.UserID, created.UserID)
	}

	status, body = api.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: session.Tokens.RefreshToken})
	if status != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", status, body)
	}
	var refreshed authResponse
	decode(t, body, &refreshed)
	if refreshed.Tokens.RefreshToken == session.Tokens.RefreshToken {
		t.Fatal("expected refresh token to rotate")
	}

	if status, _ := api.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: session.Tokens.RefreshToken}); status != http.StatusUnauthorized {
		t.Fatalf("reused refresh token should be rejected, got %d", status)
	}

	if status, _ := api.do(t, http.MethodPost, "/api/v1/auth/logout", "", refreshRequest{RefreshToken: refreshed.Tokens.RefreshToken}); status != http.StatusNoContent {
		t.Fatalf("logout: expected 204 got %d", status)
	}
	if status, _ := api.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: refreshed.Tokens.RefreshToken}); status != http.StatusUnauthorized {
		t.Fatalf("revoked refresh token should be rejected, got %d", status)
	}
	if status, _ := api.do(t, http.MethodPost, "/api/v1/auth/logout", "", refreshRequest{}); status != http.StatusBadRequest {
		t.Fatalf("logout without token: expected 400 got %d", status)
	}
}

func TestPasswordReset(t *testing.T) {
	api := newTestAPI(t)
	api.signUp(t, "rider@example.com")

	for _, email := range []string{"rider@example.com", "ghost@example.com"} {
		if status, _ := api.do(t, http.MethodPost, "/api/v1/auth/password-reset", "", passwordResetRequest{Email: email}); status != http.StatusAccepted {
			t.Fatalf("%s: expected 202 got %d", email, status)
		}
	}
	if status, _ := api.do(t, http.MethodPost, "/api/v1/auth/password-reset", "", passwordResetRequest{Email: "bad"}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed email got %d", status)
	}
}

func TestDeliveriesRequireBearer(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/api/v1/deliveries", "/api/v1/deliveries/abc"} {
		if status, _ := api.do(t, http.MethodGet, path, "", nil); status != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", path, status)
		}
		if status, _ := api.do(t, http.MethodGet, path, "garbage", nil); status != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 for bad token got %d", path, status)
		}
	}
}

func TestDeliveryLifecycle(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp(t, "alice@example.com").Tokens.AccessToken
	bob := api.signUp(t, "bob@example.com").Tokens.AccessToken

	status, body := api.do(t, http.MethodPost, "/api/v1/deliveries", alice, chickenjoy())
	if status != http.StatusCreated {
		t.Fatalf("create: status %d body %s", status, body)
	}
	var created map[string]string
	decode(t, body, &created)
	id := created["id"]
	if id == "" {
		t.Fatal("expected id in create response")
	}

	status, body = api.do(t, http.MethodGet, "/api/v1/deliveries", alice, nil)
	if status != http.StatusOK {
		t.Fatalf("list: status %d body %s", status, body)
	}
	var list listResponse
	decode(t, body, &list)
	if len(list.Requests) != 1 || list.Requests[0].ID != id {
		t.Fatalf("unexpected list %+v", list)
	}
	if list.Requests[0].Urgency != models.UrgencyCritical || list.Requests[0].Status != models.StatusPending {
		t.Fatalf("unexpected view %+v", list.Requests[0])
	}

	status, body = api.do(t, http.MethodGet, "/api/v1/deliveries", bob, nil)
	decode(t, body, &list)
	if status != http.StatusOK || len(list.Requests) != 0 {
		t.Fatalf("bob should see an empty list, got %d %s", status, body)
	}

	status, body = api.do(t, http.MethodPatch, "/api/v1/deliveries/"+id, alice, map[string]any{"status": "OnTheWay", "priority": 10})
	if status != http.StatusOK {
		t.Fatalf("patch: status %d body %s", status, body)
	}
	var view syncer.RequestView
	decode(t, body, &view)
	if view.Status != models.StatusOnTheWay || view.Priority != 10 || view.Urgency != models.UrgencyLow {
		t.Fatalf("unexpected patched view %+v", view)
	}
	if view.ItemName != "Chickenjoy" || view.DropoffLocation != "Dorm 4" {
		t.Fatalf("patch changed untouched fields: %+v", view)
	}

	status, body = api.do(t, http.MethodPatch, "/api/v1/deliveries/"+id, alice, map[string]any{"dropoffLocation": "  "})
	var verr errorResponse
	decode(t, body, &verr)
	if status != http.StatusBadRequest || verr.Field != "dropoffLocation" {
		t.Fatalf("expected dropoff validation error, got %d %s", status, body)
	}

	if status, _ := api.do(t, http.MethodPatch, "/api/v1/deliveries/"+id, alice, map[string]any{"status": "Lost"}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status got %d", status)
	}
	if status, _ := api.do(t, http.MethodGet, "/api/v1/deliveries/"+id, bob, nil); status != http.StatusNotFound {
		t.Fatalf("foreign request should be hidden, got %d", status)
	}
	if status, _ := api.do(t, http.MethodPatch, "/api/v1/deliveries/"+id, bob, map[string]any{"priority": 1}); status != http.StatusForbidden {
		t.Fatalf("foreign update should be forbidden, got %d", status)
	}
	if status, _ := api.do(t, http.MethodDelete, "/api/v1/deliveries/"+id, bob, nil); status != http.StatusForbidden {
		t.Fatalf("foreign delete should be forbidden, got %d", status)
	}

	if status, _ := api.do(t, http.MethodDelete, "/api/v1/deliveries/"+id, alice, nil); status != http.StatusNoContent {
		t.Fatalf("delete: expected 204 got %d", status)
	}
	if status, _ := api.do(t, http.MethodGet, "/api/v1/deliveries/"+id, alice, nil); status != http.StatusNotFound {
		t.Fatalf("deleted request should be gone, got %d", status)
	}
	if status, _ := api.do(t, http.MethodDelete, "/api/v1/deliveries/"+id, alice, nil); status != http.StatusNoContent {
		t.Fatalf("repeated delete: expected 204 got %d", status)
	}
}

func TestCreateRejectsEmptyDropoff(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp(t, "alice@example.com").Tokens.AccessToken

	in := chickenjoy()
	in.DropoffLocation = ""
	status, body := api.do(t, http.MethodPost, "/api/v1/deliveries", token, in)
	var resp errorResponse
	decode(t, body, &resp)
	if status != http.StatusBadRequest || resp.Field != "dropoffLocation" {
		t.Fatalf("expected validation error, got %d %s", status, body)
	}

	status, body = api.do(t, http.MethodGet, "/api/v1/deliveries", token, nil)
	var list listResponse
	decode(t, body, &list)
	if status != http.StatusOK || len(list.Requests) != 0 {
		t.Fatalf("nothing should have been stored, got %s", body)
	}
}

func TestUnavailableBackendIsRetryable(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp(t, "alice@example.com").Tokens.AccessToken

	api.store.SetOnline(false)
	defer api.store.SetOnline(true)

	status, body := api.do(t, http.MethodPost, "/api/v1/deliveries", token, chickenjoy())
	var resp errorResponse
	decode(t, body, &resp)
	if status != http.StatusServiceUnavailable || !resp.Retryable {
		t.Fatalf("expected retryable 503, got %d %s", status, body)
	}
}

func TestListTimesOutWithoutSnapshot(t *testing.T) {
	store := backend.NewMemoryStore()
	store.SetOnline(false)
	handler := DeliveryHandler{Requests: syncer.NewSynchronizer(store), SnapshotTimeout: 20 * time.Millisecond}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deliveries", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), auth.Claims{UserID: "alice"}))
	rec := httptest.NewRecorder()

	handler.List(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
	waitForSubscriptions(t, store, 0)
}

func dialLive(t *testing.T, api *testAPI, path, token string) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(api.server.URL, "http") + path + "?access_token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func readLive(t *testing.T, ctx context.Context, conn *websocket.Conn) LiveMessage {
	t.Helper()
	var msg LiveMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read live message: %v", err)
	}
	return msg
}

func waitForSubscriptions(t *testing.T, store *backend.MemoryStore, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for store.Subscriptions() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscriptions, got %d", want, store.Subscriptions())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLiveDeliveriesStreamsSnapshots(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp(t, "alice@example.com").Tokens.AccessToken

	conn, ctx := dialLive(t, api, "/api/v1/live/deliveries", token)

	first := readLive(t, ctx, conn)
	if first.Type != MessageSnapshot || len(first.Requests) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", first)
	}

	if status, body := api.do(t, http.MethodPost, "/api/v1/deliveries", token, chickenjoy()); status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}

	next := readLive(t, ctx, conn)
	if next.Type != MessageSnapshot || len(next.Requests) != 1 || next.Requests[0].ItemName != "Chickenjoy" {
		t.Fatalf("expected snapshot with the new request, got %+v", next)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitForSubscriptions(t, api.store, 0)
}

func TestLiveDeliveryReportsDeletion(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp(t, "alice@example.com").Tokens.AccessToken

	status, body := api.do(t, http.MethodPost, "/api/v1/deliveries", token, chickenjoy())
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	var created map[string]string
	decode(t, body, &created)

	conn, ctx := dialLive(t, api, "/api/v1/live/deliveries/"+created["id"], token)

	first := readLive(t, ctx, conn)
	if first.Type != MessageRequest || first.Request == nil || first.Request.ID != created["id"] {
		t.Fatalf("expected request frame, got %+v", first)
	}

	if status, _ := api.do(t, http.MethodDelete, "/api/v1/deliveries/"+created["id"], token, nil); status != http.StatusNoContent {
		t.Fatalf("delete: expected 204 got %d", status)
	}

	if gone := readLive(t, ctx, conn); gone.Type != MessageNotFound {
		t.Fatalf("expected not_found frame, got %+v", gone)
	}
}

func TestLiveRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/api/v1/live/deliveries"
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}
