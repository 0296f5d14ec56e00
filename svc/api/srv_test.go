package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clipd/cfg"
	"clipd/svc/auth"
	"clipd/svc/cache"
	"clipd/svc/db"
	"clipd/svc/lim"
	"clipd/svc/svc"
)

func testServerCfg() *cfg.Cfg {
	return &cfg.Cfg{
		Port:            "8080",
		MaxClipSize:     1024 * 1024,
		DefaultTTLHours: 24,
		MaxTTLHours:     720,
		ContextTimeout:  5 * time.Second,
		AllowedOrigins:  []string{"*"},
		RateLimit: cfg.RateLimitCfg{
			ClipsPerWindow:    10,
			Window:            time.Hour,
			RPM:               100000,
			Burst:             100000,
			ConservativeLimit: 100000,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	c := testServerCfg()
	dsn := fmt.Sprintf("file:apisrv%d?mode=memory&cache=shared", time.Now().UnixNano())
	store, err := db.NewSQLiteWithConfig(dsn, 10, 2, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	lru, err := cache.NewLRU(128)
	if err != nil {
		t.Fatal(err)
	}
	hasher, err := auth.NewHasher(1, 8*1024, 1, 32, []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.RateLimit.ConservativeLimit, nil, nil)
	t.Cleanup(limiter.Stop)
	clipSvc := svc.NewClip(store, lru, nil, c)
	userSvc := svc.NewUser(store, hasher)
	return NewServer(c, clipSvc, userSvc, limiter, store, nil)
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	req.RemoteAddr = "203.0.113.1:40000"
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.1:40000"
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestCreateAndGetClipEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := postJSON(t, srv, "/clip", map[string]any{"content": "hello clipd"})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /clip status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		ClipID  string `json:"clip_id"`
		ExpDate string `json:"exp_date"`
	}
	decodeBody(t, w, &created)
	if len(created.ClipID) != 6 {
		t.Errorf("clip_id %q should be 6 characters", created.ClipID)
	}
	exp, err := time.Parse(time.RFC3339, created.ExpDate)
	if err != nil {
		t.Fatalf("exp_date %q is not RFC3339: %v", created.ExpDate, err)
	}
	if until := time.Until(exp); until < 23*time.Hour || until > 25*time.Hour {
		t.Errorf("default expiry should be ~24h out, got %v", until)
	}

	w = get(t, srv, "/clip?id="+created.ClipID)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /clip status = %d", w.Code)
	}
	var clip struct {
		ClipID  string `json:"clip_id"`
		Content string `json:"content"`
	}
	decodeBody(t, w, &clip)
	if clip.Content != "hello clipd" {
		t.Errorf("content = %q", clip.Content)
	}

	// Alternate query parameter spelling.
	w = get(t, srv, "/clip?clip_id="+created.ClipID)
	if w.Code != http.StatusOK {
		t.Errorf("GET /clip?clip_id= status = %d", w.Code)
	}
}

func TestGetClipMissing(t *testing.T) {
	srv := newTestServer(t)
	w := get(t, srv, "/clip?id=zzzzzz")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body map[string]string
	decodeBody(t, w, &body)
	if body["error"] != "Clip not found or expired" {
		t.Errorf("error = %q", body["error"])
	}
	if len(body) != 1 {
		t.Errorf("error body must carry only the error field, got %v", body)
	}
}

func TestCreateClipValidation(t *testing.T) {
	srv := newTestServer(t)

	w := postJSON(t, srv, "/clip", map[string]any{"content": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty content: status = %d, want 400", w.Code)
	}
	var body map[string]string
	decodeBody(t, w, &body)
	if body["error"] != "Content is required" {
		t.Errorf("error = %q", body["error"])
	}

	w = postJSON(t, srv, "/clip", map[string]any{
		"content": strings.Repeat("a", 1024*1024+1),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized content: status = %d, want 400", w.Code)
	}

	w = postJSON(t, srv, "/clip", map[string]any{"content": "x", "expiration": -2})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative expiration: status = %d, want 400", w.Code)
	}
}

func TestCreateClipQuota(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 10; i++ {
		w := postJSON(t, srv, "/clip", map[string]any{"content": fmt.Sprintf("clip %d", i)})
		if w.Code != http.StatusOK {
			t.Fatalf("create %d: status = %d", i, w.Code)
		}
	}
	w := postJSON(t, srv, "/clip", map[string]any{"content": "over quota"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("11th create: status = %d, want 400", w.Code)
	}
	var body map[string]string
	decodeBody(t, w, &body)
	if body["error"] != "Rate limit exceeded. Please try again later." {
		t.Errorf("error = %q", body["error"])
	}
}

func TestFractionalExpiration(t *testing.T) {
	srv := newTestServer(t)
	w := postJSON(t, srv, "/clip", map[string]any{"content": "half hour", "expiration": 0.5})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var created struct {
		ExpDate string `json:"exp_date"`
	}
	decodeBody(t, w, &created)
	exp, err := time.Parse(time.RFC3339, created.ExpDate)
	if err != nil {
		t.Fatal(err)
	}
	if until := time.Until(exp); until < 29*time.Minute || until > 31*time.Minute {
		t.Errorf("0.5h expiry should be ~30m out, got %v", until)
	}
}

func TestUserRegistrationAndLogin(t *testing.T) {
	srv := newTestServer(t)

	w := postJSON(t, srv, "/user", map[string]any{"username": "alice", "password": "password123"})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /user status = %d, body %s", w.Code, w.Body.String())
	}
	var created map[string]string
	decodeBody(t, w, &created)
	userID := created["user_id"]
	if len(userID) != 6 {
		t.Errorf("user_id %q should be 6 characters", userID)
	}

	// Duplicate registration.
	w = postJSON(t, srv, "/user", map[string]any{"username": "alice", "password": "password456"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate username: status = %d, want 400", w.Code)
	}
	var body map[string]string
	decodeBody(t, w, &body)
	if body["error"] != "Username already exists" {
		t.Errorf("error = %q", body["error"])
	}

	// Login with the right password.
	w = postJSON(t, srv, "/login", map[string]any{"username": "alice", "password": "password123"})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /login status = %d", w.Code)
	}
	var user struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
	}
	decodeBody(t, w, &user)
	if user.UserID != userID {
		t.Errorf("login user_id = %q, want %q", user.UserID, userID)
	}
	if strings.Contains(w.Body.String(), "$argon2id$") {
		t.Error("login response must not leak the password digest")
	}

	// Wrong password.
	w = postJSON(t, srv, "/login", map[string]any{"username": "alice", "password": "wrongpass99"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", w.Code)
	}
	decodeBody(t, w, &body)
	if body["error"] != "Invalid credentials" {
		t.Errorf("error = %q", body["error"])
	}

	// User lookup.
	w = get(t, srv, "/user?id="+userID)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /user status = %d", w.Code)
	}
	decodeBody(t, w, &user)
	if user.Username != "alice" {
		t.Errorf("username = %q", user.Username)
	}
}

func TestUserValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	w := postJSON(t, srv, "/user", map[string]any{"username": "al", "password": "password123"})
	var body map[string]string
	decodeBody(t, w, &body)
	if w.Code != http.StatusBadRequest || body["error"] != "Username must be at least 3 characters long" {
		t.Errorf("short username: status=%d error=%q", w.Code, body["error"])
	}

	w = postJSON(t, srv, "/user", map[string]any{"username": "alice", "password": "short"})
	decodeBody(t, w, &body)
	if w.Code != http.StatusBadRequest || body["error"] != "Password must be at least 8 characters long" {
		t.Errorf("short password: status=%d error=%q", w.Code, body["error"])
	}
}

func TestUserClipsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := postJSON(t, srv, "/user", map[string]any{"username": "alice", "password": "password123"})
	var created map[string]string
	decodeBody(t, w, &created)
	userID := created["user_id"]

	for i := 0; i < 3; i++ {
		w = postJSON(t, srv, "/clip", map[string]any{
			"content": fmt.Sprintf("clip %d", i),
			"user_id": userID,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("create %d: status = %d", i, w.Code)
		}
	}

	w = get(t, srv, "/user/clips?user_id="+userID)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /user/clips status = %d", w.Code)
	}
	var resp struct {
		Clips []struct {
			ClipID  string `json:"clip_id"`
			Content string `json:"content"`
		} `json:"clips"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Clips) != 3 {
		t.Fatalf("got %d clips, want 3", len(resp.Clips))
	}

	// Unknown user yields an empty list, not an error.
	w = get(t, srv, "/user/clips?user_id=zzzzzz")
	if w.Code != http.StatusOK {
		t.Fatalf("unknown user: status = %d", w.Code)
	}
	decodeBody(t, w, &resp)
	if len(resp.Clips) != 0 {
		t.Errorf("unknown user should own no clips, got %d", len(resp.Clips))
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/clip", nil)
	req.RemoteAddr = "203.0.113.1:40000"
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("OPTIONS status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	w := get(t, srv, "/clip?id=zzzzzz")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("every response must carry X-Request-ID")
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	if w := get(t, srv, "/health"); w.Code != http.StatusOK {
		t.Errorf("/health status = %d", w.Code)
	}
	w := get(t, srv, "/ready")
	if w.Code != http.StatusOK {
		t.Fatalf("/ready status = %d", w.Code)
	}
	var ready struct {
		Ready bool   `json:"ready"`
		Cache string `json:"cache"`
	}
	decodeBody(t, w, &ready)
	if !ready.Ready {
		t.Error("server should be ready")
	}
	if ready.Cache != "unavailable" {
		t.Errorf("cache = %q, want unavailable without redis", ready.Cache)
	}
}
