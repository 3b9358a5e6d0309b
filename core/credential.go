package core

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentSandbox    Environment = "sandbox"
)

type APIVersion string

const (
	APIVersionV1 APIVersion = "v1"
	APIVersionV2 APIVersion = "v2"
)

type RateLimitHandling string

const (
	RateLimitRetry RateLimitHandling = "retry"
	RateLimitFail  RateLimitHandling = "fail"
)

const (
	DefaultMaxRetries           = 3
	DefaultRefreshBufferMinutes = 30
	DefaultOAuthScope           = "offline_access"
)

// Credential is the host-owned connection record. The core reads it and
// returns updated copies; it never writes through to the caller's value.
type Credential struct {
	ClientID             string            `json:"clientId"`
	ClientSecret         string            `json:"clientSecret"`
	Environment          Environment       `json:"environment" validate:"oneof=production sandbox"`
	APIVersion           APIVersion        `json:"apiVersion" validate:"oneof=v1 v2"`
	WebhookSecret        string            `json:"webhookSecret,omitempty"`
	RateLimitHandling    RateLimitHandling `json:"rateLimitHandling" validate:"oneof=retry fail"`
	MaxRetries           int               `json:"maxRetries" validate:"min=1,max=10"`
	AutoRefresh          *bool             `json:"autoRefreshTokens,omitempty"`
	RefreshBufferMinutes int               `json:"tokenRefreshBuffer" validate:"min=5,max=1440"`
	Scopes               string            `json:"oauthScopes,omitempty"`
	StoreDomain          string            `json:"storeDomain,omitempty"`
	TokenData            *TokenData        `json:"oauthTokenData,omitempty"`
}

// Normalize returns a copy with defaults applied to unset fields.
func (c Credential) Normalize() Credential {
	out := c.Clone()
	out.ClientID = strings.TrimSpace(out.ClientID)
	out.Environment = Environment(strings.ToLower(strings.TrimSpace(string(out.Environment))))
	if out.Environment == "" {
		out.Environment = EnvironmentProduction
	}
	out.APIVersion = APIVersion(strings.ToLower(strings.TrimSpace(string(out.APIVersion))))
	if out.APIVersion == "" {
		out.APIVersion = APIVersionV2
	}
	out.RateLimitHandling = RateLimitHandling(strings.ToLower(strings.TrimSpace(string(out.RateLimitHandling))))
	if out.RateLimitHandling == "" {
		out.RateLimitHandling = RateLimitRetry
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = DefaultMaxRetries
	}
	if out.RefreshBufferMinutes == 0 {
		out.RefreshBufferMinutes = DefaultRefreshBufferMinutes
	}
	if out.AutoRefresh == nil {
		enabled := true
		out.AutoRefresh = &enabled
	}
	if strings.TrimSpace(out.Scopes) == "" {
		out.Scopes = DefaultOAuthScope
	}
	return out
}

func (c Credential) Validate() error {
	err := credentialValidator.Struct(c)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "salla: credential validation failed").
			WithTextCode(ErrorBadInput)
	}
	fields := make([]goerrors.FieldError, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, goerrors.FieldError{
			Field:   fieldErr.Field(),
			Message: describeValidationTag(fieldErr),
		})
	}
	return goerrors.NewValidation("salla: invalid credential", fields...).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

func (c Credential) AutoRefreshEnabled() bool {
	if c.AutoRefresh == nil {
		return true
	}
	return *c.AutoRefresh
}

// MaxAttempts is the attempt budget for a single request chain.
func (c Credential) MaxAttempts() int {
	if c.RateLimitHandling == RateLimitFail {
		return 1
	}
	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return retries + 1
}

func (c Credential) AccessToken() string {
	if c.TokenData == nil {
		return ""
	}
	return strings.TrimSpace(c.TokenData.AccessToken)
}

func (c Credential) Clone() Credential {
	out := c
	if c.AutoRefresh != nil {
		value := *c.AutoRefresh
		out.AutoRefresh = &value
	}
	if c.TokenData != nil {
		token := c.TokenData.Clone()
		out.TokenData = &token
	}
	return out
}

// TokenData is the OAuth2 token state. ExpiresAt, once present, is
// authoritative; otherwise it is derived from ObtainedAt + ExpiresIn.
type TokenData struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int64
	ExpiresAt    *time.Time
	ObtainedAt   *time.Time
	Environment  Environment
	Extra        map[string]any
}

func (t TokenData) ResolveExpiresAt() (time.Time, bool) {
	if t.ExpiresAt != nil && !t.ExpiresAt.IsZero() {
		return t.ExpiresAt.UTC(), true
	}
	if t.ObtainedAt != nil && !t.ObtainedAt.IsZero() && t.ExpiresIn > 0 {
		return t.ObtainedAt.UTC().Add(time.Duration(t.ExpiresIn) * time.Second), true
	}
	return time.Time{}, false
}

func (t TokenData) Clone() TokenData {
	out := t
	out.ExpiresAt = cloneTime(t.ExpiresAt)
	out.ObtainedAt = cloneTime(t.ObtainedAt)
	out.Extra = cloneFields(t.Extra)
	if len(t.Extra) == 0 {
		out.Extra = nil
	}
	return out
}

var tokenDataKnownKeys = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"token_type":    {},
	"scope":         {},
	"expires_in":    {},
	"expires_at":    {},
	"obtained_at":   {},
	"environment":   {},
}

func (t TokenData) MarshalJSON() ([]byte, error) {
	payload := make(map[string]any, len(t.Extra)+len(tokenDataKnownKeys))
	for key, value := range t.Extra {
		if _, known := tokenDataKnownKeys[key]; known {
			continue
		}
		payload[key] = value
	}
	payload["access_token"] = t.AccessToken
	if t.RefreshToken != "" {
		payload["refresh_token"] = t.RefreshToken
	}
	if t.TokenType != "" {
		payload["token_type"] = t.TokenType
	}
	if t.Scope != "" {
		payload["scope"] = t.Scope
	}
	if t.ExpiresIn > 0 {
		payload["expires_in"] = t.ExpiresIn
	}
	if t.ExpiresAt != nil {
		payload["expires_at"] = t.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	if t.ObtainedAt != nil {
		payload["obtained_at"] = t.ObtainedAt.UTC().Format(time.RFC3339Nano)
	}
	if t.Environment != "" {
		payload["environment"] = string(t.Environment)
	}
	return json.Marshal(payload)
}

func (t *TokenData) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := TokenData{
		AccessToken:  readString(raw, "access_token"),
		RefreshToken: readString(raw, "refresh_token"),
		TokenType:    readString(raw, "token_type"),
		Scope:        readString(raw, "scope"),
		ExpiresIn:    readInt64(raw["expires_in"]),
		ExpiresAt:    readTime(raw["expires_at"]),
		ObtainedAt:   readTime(raw["obtained_at"]),
		Environment:  Environment(readString(raw, "environment")),
	}
	for key, value := range raw {
		if _, known := tokenDataKnownKeys[key]; known {
			continue
		}
		if decoded.Extra == nil {
			decoded.Extra = map[string]any{}
		}
		decoded.Extra[key] = value
	}
	*t = decoded
	return nil
}

var credentialValidator = newCredentialValidator()

func newCredentialValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidationTag(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "oneof":
		return "must be one of: " + fieldErr.Param()
	case "min":
		return "must be at least " + fieldErr.Param()
	case "max":
		return "must be at most " + fieldErr.Param()
	default:
		return "failed " + fieldErr.Tag() + " validation"
	}
}

func readTime(value any) *time.Time {
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, sallaDateLayout} {
			if parsed, err := time.Parse(layout, trimmed); err == nil {
				parsed = parsed.UTC()
				return &parsed
			}
		}
		if unix, err := strconv.ParseInt(trimmed, 10, 64); err == nil && unix > 0 {
			parsed := time.Unix(unix, 0).UTC()
			return &parsed
		}
	case float64:
		if typed > 0 {
			parsed := time.Unix(int64(typed), 0).UTC()
			return &parsed
		}
	}
	return nil
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := *input
	return &value
}
