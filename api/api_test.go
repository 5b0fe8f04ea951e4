package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seo-optimizer/seoaudit/account"
	"github.com/seo-optimizer/seoaudit/analyzer"
	"github.com/seo-optimizer/seoaudit/billing"
	"github.com/seo-optimizer/seoaudit/config"
	"github.com/seo-optimizer/seoaudit/logging"
	"github.com/seo-optimizer/seoaudit/middleware"
	"github.com/seo-optimizer/seoaudit/scan"
	"github.com/seo-optimizer/seoaudit/stats"
	"github.com/seo-optimizer/seoaudit/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAnalyzer struct {
	err error
}

func (s *stubAnalyzer) Analyze(_ context.Context, n analyzer.NormalizedURL) (*analyzer.Analysis, error) {
	if s.err != nil {
		return nil, fmt.Errorf("%w: %v", analyzer.ErrFetchFailed, s.err)
	}
	f := analyzer.Features{Title: "Home", Description: "About us", H1Count: 1}
	return &analyzer.Analysis{URL: n.FetchURL, Key: n.Key, Features: f, Score: analyzer.Score(f)}, nil
}

type server struct {
	t      *testing.T
	router *gin.Engine
	store  *store.Store
	an     *stubAnalyzer
}

func newServer(t *testing.T) *server {
	t.Helper()
	t.Setenv("JWT_SECRET", "api-test-secret")
	t.Setenv("ADMIN_EMAIL", "admin@example.com")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "api.db"), false)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	counters, err := stats.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("stats.NewStorage() error = %v", err)
	}
	t.Cleanup(func() { counters.Shutdown() })
	traffic, err := logging.NewStatistics(t.TempDir())
	if err != nil {
		t.Fatalf("logging.NewStatistics() error = %v", err)
	}

	secrets := config.NewSecrets()
	an := &stubAnalyzer{}
	router := NewRouter(Deps{
		Store:       st,
		Accounts:    account.NewService(st, secrets, account.Options{}),
		Scans:       scan.NewService(st, an, nil, scan.Options{Stats: counters}),
		Billing:     billing.NewService(st, secrets, billing.Options{FrontendURL: "http://localhost:3000"}),
		Stats:       counters,
		Traffic:     traffic,
		CORSOrigins: []string{"http://localhost:3000"},
	})
	return &server{t: t, router: router, store: st, an: an}
}

func (s *server) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return out
}

func (s *server) register(email string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/auth/register", gin.H{"email": email, "password": "password123"}, "")
	if w.Code != http.StatusCreated {
		s.t.Fatalf("register %s status = %d (%s)", email, w.Code, w.Body.String())
	}
	user := decode(s.t, w)["user"].(map[string]interface{})
	return user["id"].(string)
}

func (s *server) login(email string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/auth/login", gin.H{"email": email, "password": "password123"}, "")
	if w.Code != http.StatusOK {
		s.t.Fatalf("login %s status = %d (%s)", email, w.Code, w.Body.String())
	}
	return decode(s.t, w)["token"].(string)
}

// approvedUser registers email, approves it as admin and logs in.
func (s *server) approvedUser(adminToken, email string) (string, string) {
	s.t.Helper()
	id := s.register(email)
	w := s.do(http.MethodPost, "/api/admin/approve", gin.H{"userId": id, "status": "approved"}, adminToken)
	if w.Code != http.StatusOK {
		s.t.Fatalf("approve status = %d (%s)", w.Code, w.Body.String())
	}
	return id, s.login(email)
}

func TestHealthAndPlans(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/api/health", nil, "")
	if w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/plans", nil, "")
	plans := decode(t, w)["plans"].([]interface{})
	if w.Code != http.StatusOK || len(plans) != 3 {
		t.Fatalf("plans = %d %s", w.Code, w.Body.String())
	}
	if first := plans[0].(map[string]interface{}); first["name"] != store.PlanFree {
		t.Errorf("first plan = %v", first)
	}
}

func TestUnknownRoutes(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/api/nope", nil, "")
	if w.Code != http.StatusNotFound || decode(t, w)["error"] != "not found" {
		t.Errorf("unknown route = %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodGet, "/api/auth/login", nil, "")
	if w.Code != http.StatusMethodNotAllowed || decode(t, w)["error"] != "method not allowed" {
		t.Errorf("wrong method = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/auth/register", gin.H{"email": "not-an-email", "password": "short"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid register status = %d", w.Code)
	}
	fields := decode(t, w)["fields"].(map[string]interface{})
	if fields["email"] == nil || fields["password"] == nil {
		t.Errorf("fields = %v", fields)
	}

	s.register("user@example.com")
	w = s.do(http.MethodPost, "/api/auth/register", gin.H{"email": "USER@example.com", "password": "password123"}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d", w.Code)
	}

	w = s.do(http.MethodPost, "/api/auth/login", gin.H{"email": "user@example.com", "password": "password123"}, "")
	if w.Code != http.StatusForbidden || !strings.Contains(decode(t, w)["error"].(string), "pending") {
		t.Errorf("pending login = %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodPost, "/api/auth/login", gin.H{"email": "user@example.com", "password": "wrong-pass"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d", w.Code)
	}

	s.register("admin@example.com")
	w = s.do(http.MethodPost, "/api/auth/login", gin.H{"email": "admin@example.com", "password": "password123"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("admin login = %d %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != middleware.TokenCookie || !cookies[0].HttpOnly {
		t.Errorf("cookies = %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me via cookie = %d %s", rec.Code, rec.Body.String())
	}
	me := decode(t, rec)
	user := me["user"].(map[string]interface{})
	if user["role"] != store.RoleAdmin || user["remaining"] != nil {
		t.Errorf("admin profile = %v", user)
	}
	raw, _ := me["tokenExpiresAt"].(string)
	expires, err := time.Parse(time.RFC3339, raw)
	if err != nil || !expires.After(time.Now()) {
		t.Errorf("tokenExpiresAt = %v (%v)", me["tokenExpiresAt"], err)
	}

	w = s.do(http.MethodPost, "/api/auth/logout", nil, "")
	if c := w.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("logout cookies = %+v", c)
	}
}

func TestLoginWithoutSecret(t *testing.T) {
	s := newServer(t)
	s.register("admin@example.com")
	t.Setenv("JWT_SECRET", "")

	w := s.do(http.MethodPost, "/api/auth/login", gin.H{"email": "admin@example.com", "password": "password123"}, "")
	if w.Code != http.StatusInternalServerError || !strings.Contains(decode(t, w)["error"].(string), "not configured") {
		t.Errorf("login without secret = %d %s", w.Code, w.Body.String())
	}
}

func TestScanFlow(t *testing.T) {
	s := newServer(t)
	s.register("admin@example.com")
	admin := s.login("admin@example.com")
	_, alice := s.approvedUser(admin, "alice@example.com")
	_, bob := s.approvedUser(admin, "bob@example.com")

	if w := s.do(http.MethodPost, "/api/scan", gin.H{"url": "example.com"}, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous scan status = %d", w.Code)
	}
	w := s.do(http.MethodPost, "/api/scan", gin.H{}, alice)
	if w.Code != http.StatusBadRequest || decode(t, w)["fields"] == nil {
		t.Errorf("empty scan = %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, "/api/scan", gin.H{"url": "Example.com/"}, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("scan = %d %s", w.Code, w.Body.String())
	}
	first := decode(t, w)
	if first["score"].(float64) != 100 || first["cached"] != false || first["content"] != nil {
		t.Errorf("scan result = %v", first)
	}
	technical := first["technical"].(map[string]interface{})
	if technical["title"] != "Home" {
		t.Errorf("technical = %v", technical)
	}
	reportID := first["reportId"].(string)

	w = s.do(http.MethodPost, "/api/scan", gin.H{"url": "https://example.com"}, alice)
	if second := decode(t, w); second["reportId"] != reportID || second["cached"] != true {
		t.Errorf("second scan = %v", second)
	}

	w = s.do(http.MethodGet, "/api/scan/history", nil, alice)
	if reports := decode(t, w)["reports"].([]interface{}); len(reports) != 1 {
		t.Errorf("history = %s", w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/scan/"+reportID, nil, alice)
	if w.Code != http.StatusOK || decode(t, w)["id"] != reportID {
		t.Errorf("report = %d %s", w.Code, w.Body.String())
	}
	if w := s.do(http.MethodGet, "/api/scan/"+reportID, nil, bob); w.Code != http.StatusNotFound {
		t.Errorf("other user's report status = %d, want 404", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/scan/"+reportID+"/export", nil, bob); w.Code != http.StatusNotFound {
		t.Errorf("other user's export status = %d, want 404", w.Code)
	}

	w = s.do(http.MethodGet, "/api/scan/"+reportID+"/export", nil, alice)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/markdown") {
		t.Fatalf("export = %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "# SEO Audit Report") {
		t.Errorf("export body = %s", w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/auth/me", nil, alice)
	user := decode(t, w)["user"].(map[string]interface{})
	if user["usageCount"].(float64) != 2 || user["remaining"].(float64) != 3 {
		t.Errorf("profile after scans = %v", user)
	}
}

func TestScanQuota(t *testing.T) {
	s := newServer(t)
	s.register("admin@example.com")
	admin := s.login("admin@example.com")
	_, carol := s.approvedUser(admin, "carol@example.com")

	for i := 0; i < 5; i++ {
		w := s.do(http.MethodPost, "/api/scan", gin.H{"url": fmt.Sprintf("site%d.example", i)}, carol)
		if w.Code != http.StatusOK {
			t.Fatalf("scan %d = %d %s", i, w.Code, w.Body.String())
		}
	}

	w := s.do(http.MethodPost, "/api/scan", gin.H{"url": "one-more.example"}, carol)
	if w.Code != http.StatusForbidden {
		t.Fatalf("over quota status = %d", w.Code)
	}
	body := decode(t, w)
	if !strings.Contains(body["error"].(string), "upgrade required") ||
		body["usageCount"].(float64) != 5 || body["usageLimit"].(float64) != 5 {
		t.Errorf("quota body = %v", body)
	}

	for i := 0; i < 7; i++ {
		if w := s.do(http.MethodPost, "/api/scan", gin.H{"url": fmt.Sprintf("admin%d.example", i)}, admin); w.Code != http.StatusOK {
			t.Fatalf("admin scan %d = %d", i, w.Code)
		}
	}
}

func TestScanFetchFailure(t *testing.T) {
	s := newServer(t)
	s.register("admin@example.com")
	admin := s.login("admin@example.com")
	dave, token := s.approvedUser(admin, "dave@example.com")

	s.an.err = errors.New("connection refused")
	w := s.do(http.MethodPost, "/api/scan", gin.H{"url": "down.example"}, token)
	if w.Code != http.StatusInternalServerError || !strings.HasPrefix(decode(t, w)["error"].(string), "failed to scan site") {
		t.Fatalf("fetch failure = %d %s", w.Code, w.Body.String())
	}

	u, err := s.store.UserByID(context.Background(), dave)
	if err != nil {
		t.Fatalf("UserByID() error = %v", err)
	}
	if u.UsageCount != 0 {
		t.Errorf("usage after failed scan = %d, want 0", u.UsageCount)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)
	s.register("admin@example.com")
	admin := s.login("admin@example.com")
	erin, token := s.approvedUser(admin, "erin@example.com")

	if w := s.do(http.MethodGet, "/api/admin/users", nil, token); w.Code != http.StatusForbidden {
		t.Errorf("non-admin users status = %d", w.Code)
	}

	w := s.do(http.MethodGet, "/api/admin/users?status=approved", nil, admin)
	if users := decode(t, w)["users"].([]interface{}); len(users) != 2 {
		t.Errorf("approved users = %s", w.Body.String())
	}
	if w := s.do(http.MethodGet, "/api/admin/users?status=bogus", nil, admin); w.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d", w.Code)
	}

	w = s.do(http.MethodPost, "/api/admin/approve", gin.H{"userId": erin, "status": "maybe"}, admin)
	if w.Code != http.StatusBadRequest || decode(t, w)["fields"] == nil {
		t.Errorf("invalid approve = %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, "/api/admin/plan", gin.H{"userId": erin, "plan": store.PlanPro}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("set plan = %d %s", w.Code, w.Body.String())
	}
	user := decode(t, w)["user"].(map[string]interface{})
	if user["plan"] != store.PlanPro || user["usageLimit"].(float64) != 100 {
		t.Errorf("user after plan = %v", user)
	}
	if w := s.do(http.MethodPost, "/api/admin/plan", gin.H{"userId": erin, "plan": "platinum"}, admin); w.Code != http.StatusBadRequest {
		t.Errorf("unknown plan status = %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/api/admin/plan", gin.H{"userId": "missing", "plan": store.PlanPro}, admin); w.Code != http.StatusNotFound {
		t.Errorf("missing user status = %d", w.Code)
	}

	s.do(http.MethodPost, "/api/scan", gin.H{"url": "stats.example"}, token)
	w = s.do(http.MethodGet, "/api/admin/stats", nil, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["totalScans"].(float64) != 1 || body["traffic"] == nil || body["monthly"] == nil {
		t.Errorf("stats body = %v", body)
	}
	history, _ := body["history"].(map[string]interface{})
	month, _ := history[time.Now().UTC().Format("2006-01")].(map[string]interface{})
	if month == nil || month["completed_scans"].(float64) != 1 {
		t.Errorf("history = %v", body["history"])
	}

	w = s.do(http.MethodPost, "/api/admin/approve", gin.H{"userId": erin, "status": "rejected"}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("reject = %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/auth/me", nil, token); w.Code != http.StatusForbidden {
		t.Errorf("rejected user me status = %d, want 403", w.Code)
	}
}

func TestBillingNotConfigured(t *testing.T) {
	s := newServer(t)
	s.register("admin@example.com")
	admin := s.login("admin@example.com")

	w := s.do(http.MethodPost, "/api/billing/checkout", gin.H{"plan": store.PlanPro}, admin)
	if w.Code != http.StatusInternalServerError || decode(t, w)["error"] != billing.ErrNotConfigured.Error() {
		t.Errorf("checkout = %d %s", w.Code, w.Body.String())
	}
	if w := s.do(http.MethodPost, "/api/billing/checkout", gin.H{"plan": store.PlanFree}, admin); w.Code != http.StatusBadRequest {
		t.Errorf("checkout free status = %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/api/stripe/webhook", gin.H{}, ""); w.Code != http.StatusInternalServerError {
		t.Errorf("webhook status = %d", w.Code)
	}
}
