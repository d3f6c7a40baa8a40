package assistant

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-guard/internal/identity"
)

// withIdentity stands in for identity.Middleware in tests.
func withIdentity(userID, sessionID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.NewContext(r.Context(), userID, sessionID)))
		})
	}
}

func newTestHandler(t *testing.T, model ModelClient, cfg HandlerConfig) (*Handler, http.Handler) {
	t.Helper()
	env := newTestEnv(t, model)
	h := NewHandler(env.svc, env.repo, nil, cfg, nil)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(withIdentity("anon_test", "tab-1"))
	h.RegisterRoutes(r)
	return h, r
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	return events
}

func TestHandleChatStreamsEventsInOrder(t *testing.T) {
	_, router := newTestHandler(t, nil, HandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/assistant/chat", strings.NewReader(`{"message": "someone stole my identity and opened a credit card"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := readSSE(t, w.Body.String())
	var names []string
	for _, ev := range events {
		names = append(names, ev.name)
	}
	want := []string{"context", "message", "recommendations", "done"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", names, want)
	}

	var ctxEvent ContextEvent
	if err := json.Unmarshal([]byte(events[0].data), &ctxEvent); err != nil {
		t.Fatalf("decode context event: %v", err)
	}
	if len(ctxEvent.Summary.ActiveThreats) == 0 {
		t.Errorf("context event summary = %+v, want threats detected", ctxEvent.Summary)
	}
	if !strings.Contains(events[3].data, `"tab-1"`) {
		t.Errorf("done event = %s, want session id", events[3].data)
	}
}

func TestHandleChatValidation(t *testing.T) {
	_, router := newTestHandler(t, nil, HandlerConfig{MaxRequestBodySize: 64})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty message", `{"message": "  "}`, http.StatusBadRequest},
		{"invalid json", `{"message":`, http.StatusBadRequest},
		{"too large", `{"message": "` + strings.Repeat("a", 200) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/assistant/chat", strings.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHandleChatRateLimit(t *testing.T) {
	_, router := newTestHandler(t, nil, HandlerConfig{RateLimitRequests: 1, RateLimitWindow: time.Hour})

	post := func() int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/assistant/chat", strings.NewReader(`{"message": "hi"}`)))
		return w.Code
	}
	if got := post(); got != http.StatusOK {
		t.Fatalf("first request status = %d", got)
	}
	if got := post(); got != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", got)
	}
}

func TestHandleRecommend(t *testing.T) {
	_, router := newTestHandler(t, nil, HandlerConfig{})

	tests := []struct {
		name     string
		body     string
		want     int
		wantRecs int
	}{
		{"keyword match", `{"text": "is my password strong enough"}`, http.StatusOK, -1},
		{"zero limit", `{"text": "password", "limit": 0}`, http.StatusOK, 0},
		{"negative limit", `{"text": "password", "limit": -1}`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/assistant/recommend", strings.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var got struct {
				Recommendations []json.RawMessage `json:"recommendations"`
			}
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got.Recommendations == nil {
				t.Fatal("recommendations must be a JSON array, not null")
			}
			if tt.wantRecs >= 0 && len(got.Recommendations) != tt.wantRecs {
				t.Errorf("got %d recommendations, want %d", len(got.Recommendations), tt.wantRecs)
			}
			if tt.wantRecs < 0 && len(got.Recommendations) == 0 {
				t.Error("expected at least one recommendation")
			}
		})
	}
}

func TestHandleUsageAndInsights(t *testing.T) {
	_, router := newTestHandler(t, nil, HandlerConfig{})

	post := func(body string) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/assistant/usage", strings.NewReader(body)))
		return w.Code
	}
	if got := post(`{"tool": ""}`); got != http.StatusBadRequest {
		t.Errorf("empty tool status = %d, want 400", got)
	}
	if got := post(`{"tool": "nonexistent"}`); got != http.StatusBadRequest {
		t.Errorf("unknown tool status = %d, want 400", got)
	}
	for i := 0; i < 3; i++ {
		if got := post(`{"tool": "breach_scanner", "successful": true}`); got != http.StatusCreated {
			t.Fatalf("usage status = %d, want 201", got)
		}
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/assistant/insights", nil))
	var got struct {
		Insights []struct {
			Tool        string  `json:"tool"`
			SuccessRate float64 `json:"success_rate"`
		} `json:"insights"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got.Insights) != 1 || got.Insights[0].Tool != "breach_scanner" || got.Insights[0].SuccessRate != 1 {
		t.Errorf("insights = %+v", got.Insights)
	}
}

func TestHandleContextAndReset(t *testing.T) {
	_, router := newTestHandler(t, nil, HandlerConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/assistant/context?summary=true", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("context status = %d", w.Code)
	}
	var summary map[string]any
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if summary["stage"] != "initial" {
		t.Errorf("summary stage = %v, want initial", summary["stage"])
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/assistant/reset", strings.NewReader(`{"carry_over": true}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
	var reset map[string]any
	if err := json.NewDecoder(w.Body).Decode(&reset); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	next, _ := reset["session_id"].(string)
	if next == "" || next == "tab-1" || reset["previous_session_id"] != "tab-1" {
		t.Errorf("reset response = %v", reset)
	}
	if got := w.Header().Get(identity.SessionHeaderName); got != next {
		t.Errorf("session header = %q, want %q", got, next)
	}
}
