package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolveDeterministicFallback(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	var resolvedProvider glog.LoggerProvider
	_, resolved := Resolve("salla", provider, loggerOnly)
	got := resolved.(*capturingLogger)
	if got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved = Resolve("salla", nil, loggerOnly)
	got = resolved.(*capturingLogger)
	if got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	_, resolved = Resolve("salla", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestForCredentialScopesFieldsLogger(t *testing.T) {
	base := &fieldsLogger{}
	scoped := ForCredential(base, " store-7 ").(*fieldsLogger)
	if scoped.fields["credential_key"] != "store-7" {
		t.Fatalf("expected credential_key field, got %#v", scoped.fields)
	}
	if base.fields != nil {
		t.Fatalf("expected base logger left untouched")
	}

	if got := ForCredential(base, "  "); got != base {
		t.Fatalf("expected blank key to return the logger unchanged")
	}

	plain := &capturingLogger{id: "plain"}
	if got := ForCredential(plain, "store-7").(*capturingLogger); got.id != "plain" {
		t.Fatalf("expected logger without fields support returned as is")
	}
	if ForCredential(nil, "store-7") == nil {
		t.Fatalf("expected nop logger for nil input")
	}
}

func TestComponentName(t *testing.T) {
	cases := map[string]string{
		"":                  "salla",
		"salla":             "salla",
		"jobs":              "salla.jobs",
		" .executor. ":      "salla.executor",
		"salla.token.store": "salla.token.store",
	}
	for in, want := range cases {
		if got := ComponentName(in); got != want {
			t.Fatalf("ComponentName(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestComponentNamesChildLogger(t *testing.T) {
	provider := &namingProvider{}
	Component("webhooks", provider, nil)
	if provider.last != "salla.webhooks" {
		t.Fatalf("expected salla.webhooks, got %q", provider.last)
	}
	Component("  ", provider, nil)
	if provider.last != "salla" {
		t.Fatalf("expected default name, got %q", provider.last)
	}

	direct := &capturingLogger{id: "direct"}
	if got := Component("executor", nil, direct).(*capturingLogger); got.id != "direct" {
		t.Fatalf("expected direct logger without provider, got %q", got.id)
	}
}

func TestResolveDefaultsEmptyName(t *testing.T) {
	provider := &namingProvider{}
	Resolve("", provider, nil)
	if provider.last != DefaultName {
		t.Fatalf("expected default logger name, got %q", provider.last)
	}
}

type namingProvider struct {
	last string
}

func (p *namingProvider) GetLogger(name string) glog.Logger {
	p.last = name
	return glog.Nop()
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger *capturingLogger
}

func (p *capturingProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type fieldsLogger struct {
	capturingLogger
	fields map[string]any
}

func (l *fieldsLogger) WithFields(fields map[string]any) glog.Logger {
	return &fieldsLogger{capturingLogger: l.capturingLogger, fields: fields}
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{
		msg:  msg,
		args: append([]any(nil), args...),
	}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
