package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/admin/users/42/block":           "/v1/admin/users/:id/block",
		"/v1/admin/collections/7":            "/v1/admin/collections/:id",
		"/v1/admin/settings/site_name":       "/v1/admin/settings/:key",
		"/v1/admin/settings":                 "/v1/admin/settings",
		"/v1/admin/audit-logs?limit=10":      "/v1/admin/audit-logs",
		"/v1/users/login":                    "/v1/users/login",
		"/v1/admin/roles/3/permissions":      "/v1/admin/roles/:id/permissions",
		"/v1/admin/admins/12/roles?expand=1": "/v1/admin/admins/:id/roles",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestInstrumentCountsRequests(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/admin/users/5", nil))

	body := scrape(t)
	want := `http_requests_total{method="GET",path="/v1/admin/users/:id",status="418"}`
	if !strings.Contains(body, want) {
		t.Fatalf("missing %s in exposition", want)
	}
}

func TestRecordLoginAndReady(t *testing.T) {
	Init()
	RecordLogin("user", "locked")
	SetReady(true)
	body := scrape(t)
	if !strings.Contains(body, `auth_login_attempts_total{kind="user",outcome="locked"}`) {
		t.Fatalf("login outcome not exported")
	}
	if !strings.Contains(body, "gatehouse_ready 1") {
		t.Fatalf("ready gauge not set")
	}
	SetReady(false)
	if !strings.Contains(scrape(t), "gatehouse_ready 0") {
		t.Fatalf("ready gauge not cleared")
	}
}

func TestLogRequestWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	LogRequest(RequestLog{
		RequestID: "req-1",
		Method:    http.MethodPost,
		Path:      "/v1/users/login",
		Status:    401,
		Duration:  1500 * time.Microsecond,
		RemoteIP:  "192.0.2.1",
	})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "request_complete" || entry["request_id"] != "req-1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["status"] != float64(401) || entry["duration_ms"] != 1.5 {
		t.Fatalf("unexpected fields: %v", entry)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LogConfig{Level: "warn", ServiceName: "svc"})
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") || !strings.Contains(out, `"service":"svc"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}
