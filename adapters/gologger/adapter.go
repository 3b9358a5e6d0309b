// Package gologger names and scopes go-logger loggers for the salla
// components.
package gologger

import (
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// DefaultName is the logger name used when callers pass an empty one.
const DefaultName = "salla"

// Resolve picks provider over logger over a nop logger, naming the result
// DefaultName when name is blank.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return glog.Resolve(name, provider, logger)
}

// Component resolves a child logger named salla.<component>.
func Component(component string, provider glog.LoggerProvider, logger glog.Logger) glog.Logger {
	_, resolved := Resolve(ComponentName(component), provider, logger)
	return resolved
}

// ComponentName returns salla.<component>, or DefaultName for a blank
// component. Names already under salla. are kept as given.
func ComponentName(component string) string {
	component = strings.Trim(strings.TrimSpace(component), ".")
	switch {
	case component == "" || component == DefaultName:
		return DefaultName
	case strings.HasPrefix(component, DefaultName+"."):
		return component
	default:
		return DefaultName + "." + component
	}
}

// ForCredential scopes logger to one stored credential. Backends without
// structured fields get the logger back unchanged, so callers still pass
// credential_key explicitly on lines that need it.
func ForCredential(logger glog.Logger, credentialKey string) glog.Logger {
	logger = glog.Ensure(logger)
	credentialKey = strings.TrimSpace(credentialKey)
	if credentialKey == "" {
		return logger
	}
	if fields, ok := logger.(glog.FieldsLogger); ok {
		return fields.WithFields(map[string]any{"credential_key": credentialKey})
	}
	return logger
}
