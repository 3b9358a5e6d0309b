package core

import (
	"context"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	Metadata             map[string]any
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RateLimitKey identifies the quota bucket a response counts against.
type RateLimitKey struct {
	Environment string
	ClientID    string
	BucketKey   string
}

// ResponseMeta is what a rate-limit observer sees after each API call.
type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitObserver interface {
	AfterCall(ctx context.Context, key RateLimitKey, meta ResponseMeta) error
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// RefreshLocker provides mutual exclusion around token refresh for a
// credential key. Implementations return an error when the lock is held.
type RefreshLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

// CredentialSource supplies host-owned credential records by key.
type CredentialSource interface {
	LoadCredential(ctx context.Context, key string) (Credential, error)
}

type credentialKeyContextKey struct{}

// WithCredentialKey tags ctx with the host key of the credential being used,
// so a refresh can re-read it from the CredentialSource.
func WithCredentialKey(ctx context.Context, key string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, credentialKeyContextKey{}, strings.TrimSpace(key))
}

func CredentialKeyFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	key, _ := ctx.Value(credentialKeyContextKey{}).(string)
	return key, key != ""
}

// CredentialSink accepts proposed credential updates. The core never assumes
// the proposal was persisted.
type CredentialSink interface {
	ProposeCredential(ctx context.Context, key string, cred Credential) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
