package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) hasCounter(name string, tagKey string, tagValue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, counter := range m.counters {
		if counter.name == name && counter.tags[tagKey] == tagValue {
			return true
		}
	}
	return false
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

func hasLog(records []capturedLog, level string, msg string) bool {
	for _, record := range records {
		if record.level == level && record.msg == msg {
			return true
		}
	}
	return false
}

// scriptedTransport replays queued responses and records every request.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []TransportResponse
	errs      []error
	requests  []TransportRequest
}

func (t *scriptedTransport) push(status int, headers map[string]string, body string) *scriptedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses = append(t.responses, TransportResponse{StatusCode: status, Headers: headers, Body: []byte(body)})
	t.errs = append(t.errs, nil)
	return t
}

func (t *scriptedTransport) pushErr(err error) *scriptedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses = append(t.responses, TransportResponse{})
	t.errs = append(t.errs, err)
	return t
}

func (t *scriptedTransport) Do(_ context.Context, req TransportRequest) (TransportResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, req)
	index := len(t.requests) - 1
	if index >= len(t.responses) {
		return TransportResponse{StatusCode: http.StatusInternalServerError, Body: []byte(`{"message":"unscripted"}`)}, nil
	}
	return t.responses[index], t.errs[index]
}

func (t *scriptedTransport) calls() []TransportRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TransportRequest, len(t.requests))
	copy(out, t.requests)
	return out
}

type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordedSleep) snapshot() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// tokenServer is a fake accounts host answering the token endpoint.
type tokenServer struct {
	server *httptest.Server
	calls  atomic.Int32
	status int
	reply  map[string]any
	forms  chan map[string]string
}

func newTokenServer(t *testing.T, status int, reply map[string]any) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: status, reply: reply, forms: make(chan map[string]string, 16)}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		if r.URL.Path != "/oauth2/token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form := map[string]string{}
		for key := range r.PostForm {
			form[key] = r.PostForm.Get(key)
		}
		form["accept"] = r.Header.Get("Accept")
		form["user_agent"] = r.Header.Get("User-Agent")
		select {
		case ts.forms <- form:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ts.status)
		_ = json.NewEncoder(w).Encode(ts.reply)
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *tokenServer) endpoints() EndpointsConfig {
	endpoints := DefaultEndpoints()
	endpoints.AccountsProduction = ts.server.URL
	endpoints.AccountsSandbox = ts.server.URL
	return endpoints
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func testCredential(now time.Time, expiresIn time.Duration) Credential {
	expiresAt := now.Add(expiresIn)
	return Credential{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Environment:  EnvironmentProduction,
		APIVersion:   APIVersionV2,
		TokenData: &TokenData{
			AccessToken:  "access-old",
			RefreshToken: "refresh-old",
			TokenType:    "bearer",
			ExpiresAt:    &expiresAt,
			Extra:        map[string]any{"merchant": "m-1"},
		},
	}.Normalize()
}

func bearerOf(req TransportRequest) string {
	return strings.TrimPrefix(req.Headers["Authorization"], "Bearer ")
}
