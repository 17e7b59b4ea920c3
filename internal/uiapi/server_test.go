package uiapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/awaistahir/smart-sprinkler/internal/auth"
	"github.com/awaistahir/smart-sprinkler/internal/engine"
	"github.com/awaistahir/smart-sprinkler/internal/jobqueue"
	"github.com/awaistahir/smart-sprinkler/internal/zone"
)

var now = time.Date(2024, 6, 10, 1, 0, 0, 0, time.UTC)

type stubForecast struct {
	forecast *engine.Forecast
	err      error
}

func (s *stubForecast) Forecast(context.Context) (*engine.Forecast, error) {
	return s.forecast, s.err
}

// testForecast covers 2024-06-09 to 2024-06-16 with sunrise at 05:00 UTC and 5 mm ETo
func testForecast() *engine.Forecast {
	f := &engine.Forecast{Timezone: "GMT", FetchedAt: now}
	for i := 0; i < 8; i++ {
		day := time.Date(2024, 6, 9+i, 5, 0, 0, 0, time.UTC)
		f.Daily.Time = append(f.Daily.Time, day.Format(engine.DateLayout))
		f.Daily.Sunrise = append(f.Daily.Sunrise, day)
		f.Daily.ET0 = append(f.Daily.ET0, 5)
		f.Daily.Precipitation = append(f.Daily.Precipitation, 0)
	}
	return f
}

type testServer struct {
	handler  http.Handler
	tokens   *auth.TokenService
	forecast *stubForecast
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	fc := &stubForecast{forecast: testForecast()}
	m := zone.NewManager([]zone.Config{{Name: "Lawn"}, {Name: "Beds"}}, zone.Deps{
		Forecast: fc,
		Clock:    jobqueue.NewManualClock(now),
		Logger:   zerolog.Nop(),
	})
	m.Start(context.Background())
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	tokens, err := auth.NewTokenService()
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	t.Cleanup(tokens.Close)

	srv := NewServer(cfg, m, fc, tokens, zerolog.Nop())
	return &testServer{handler: srv.Handler(), tokens: tokens, forecast: fc}
}

func (ts *testServer) do(t *testing.T, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		token, err := ts.tokens.IssueAccess()
		if err != nil {
			t.Fatalf("IssueAccess: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestPublicEndpoints(t *testing.T) {
	ts := newTestServer(t, Config{})

	if rec := ts.do(t, http.MethodGet, "/healthz", "", false); rec.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output lacks runtime collectors")
	}

	for _, path := range []string{"/api/zones", "/api/zones/1", "/api/forecast"} {
		if rec := ts.do(t, http.MethodGet, path, "", false); rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, rec.Code)
		}
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, Config{Password: "secret"})

	tests := []struct {
		name   string
		body   string
		cookie bool
		want   int
	}{
		{"correct password", `{"password":"secret"}`, false, http.StatusOK},
		{"wrong password", `{"password":"guess"}`, false, http.StatusUnauthorized},
		{"refresh with cookie", `{}`, true, http.StatusOK},
		{"refresh without cookie", `{}`, false, http.StatusUnauthorized},
		{"malformed body", `{"pass":"secret"}`, false, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(tt.body))
			if tt.cookie {
				refresh, err := ts.tokens.IssueRefresh()
				if err != nil {
					t.Fatalf("IssueRefresh: %v", err)
				}
				req.AddCookie(&http.Cookie{Name: auth.RefreshCookie, Value: refresh})
			}
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if tt.want != http.StatusOK {
				return
			}

			var resp loginResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if err := ts.tokens.VerifyAccess(resp.Token); err != nil {
				t.Errorf("issued token rejected: %v", err)
			}
			if !strings.Contains(rec.Header().Get("Set-Cookie"), auth.RefreshCookie+"=") {
				t.Error("refresh cookie not set")
			}
		})
	}
}

func TestLoginWithoutPassword(t *testing.T) {
	ts := newTestServer(t, Config{})

	if rec := ts.do(t, http.MethodPost, "/api/login", `{}`, false); rec.Code != http.StatusOK {
		t.Errorf("login = %d, want 200", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{Password: "secret", LoginRate: rate.Every(time.Hour), LoginBurst: 1})

	if rec := ts.do(t, http.MethodPost, "/api/login", `{"password":"guess"}`, false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("first attempt = %d, want 401", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/login", `{"password":"secret"}`, false); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second attempt = %d, want 429", rec.Code)
	}
}

func TestGetZones(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(t, http.MethodGet, "/api/zones", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var zones []engine.Zone
	if err := json.NewDecoder(rec.Body).Decode(&zones); err != nil {
		t.Fatalf("decoding zones: %v", err)
	}
	if len(zones) != 2 || zones[0].Name != "Lawn" || zones[1].ID != 2 {
		t.Errorf("zones = %+v", zones)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/zones/1", http.StatusOK},
		{"/api/zones/9", http.StatusNotFound},
		{"/api/zones/lawn", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := ts.do(t, http.MethodGet, tt.path, "", true); rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestPatchAndOverride(t *testing.T) {
	ts := newTestServer(t, Config{})

	patchTests := []struct {
		name string
		body string
		want int
	}{
		{"unknown field", `[{"id":1,"colour":"green"}]`, http.StatusBadRequest},
		{"out of range", `[{"id":1,"characteristics":{"MAD":2}}]`, http.StatusBadRequest},
		{"unknown zone", `[{"id":7,"enabled":false}]`, http.StatusNotFound},
		{"configure lawn", `[{"id":1,"configured":true,"characteristics":{"Dr":60},"irrigation":{"emitterCount":10,"flowRate":4}}]`, http.StatusOK},
	}
	for _, tt := range patchTests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, http.MethodPatch, "/api/zones", tt.body, true); rec.Code != tt.want {
				t.Errorf("PATCH = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}

	rec := ts.do(t, http.MethodGet, "/api/zones/1", "", true)
	var detail zoneDetail
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatalf("decoding zone: %v", err)
	}
	if detail.Schedule.Next == nil || !detail.Schedule.Next.Start.Equal(time.Date(2024, 6, 10, 2, 55, 0, 0, time.UTC)) {
		t.Fatalf("window = %+v", detail.Schedule.Next)
	}
	if len(detail.Jobs) != 4 {
		t.Errorf("jobs = %+v", detail.Jobs)
	}
	if detail.NextWake == nil || !detail.NextWake.Equal(detail.Schedule.Next.Start) {
		t.Errorf("nextWake = %v, want %v", detail.NextWake, detail.Schedule.Next.Start)
	}

	overrideTests := []struct {
		name string
		body string
		want int
	}{
		{"unknown command", `{"zoneId":1,"schedule":"WATER"}`, http.StatusBadRequest},
		{"malformed", `{"zoneId":"one"}`, http.StatusBadRequest},
		{"unknown zone", `{"zoneId":9,"schedule":"SKIP"}`, http.StatusNotFound},
		{"cancel idle zone", `{"zoneId":1,"schedule":"CANCEL"}`, http.StatusConflict},
		{"run unplanned zone", `{"zoneId":2,"schedule":"RUN"}`, http.StatusConflict},
		{"skip", `{"zoneId":1,"schedule":"SKIP"}`, http.StatusOK},
		{"skip again", `{"zoneId":1,"schedule":"SKIP"}`, http.StatusConflict},
	}
	for _, tt := range overrideTests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, http.MethodPost, "/api/override", tt.body, true); rec.Code != tt.want {
				t.Errorf("POST /api/override = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestGetForecast(t *testing.T) {
	ts := newTestServer(t, Config{})

	if rec := ts.do(t, http.MethodGet, "/api/forecast", "", true); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	ts.forecast.err = errors.New("offline")
	ts.forecast.forecast = nil
	if rec := ts.do(t, http.MethodGet, "/api/forecast", "", true); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status without forecast = %d, want 503", rec.Code)
	}
}
