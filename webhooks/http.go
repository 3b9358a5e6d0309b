package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-salla/core"
)

const DefaultMaxBodyBytes = core.DefaultWebhookMaxBodyBytes

type HTTPHandler struct {
	receiver     *Receiver
	maxBodyBytes int64
}

type HTTPOption func(*HTTPHandler)

func WithMaxBodyBytes(limit int64) HTTPOption {
	return func(h *HTTPHandler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

// NewHTTPHandler adapts receiver to net/http. Header names are lower-cased
// and a body that is not a JSON object is treated as empty.
func NewHTTPHandler(receiver *Receiver, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{receiver: receiver, maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.receiver == nil {
		writeMessage(w, http.StatusInternalServerError, "Webhook receiver is not configured")
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "Webhook body too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "Unable to read webhook body")
		return
	}

	req := InboundRequest{
		Headers: FlattenHeaders(r.Header),
		RawBody: raw,
		Body:    decodeBody(raw),
	}
	result, err := h.receiver.Handle(r.Context(), req)
	if err != nil {
		if core.IsErrorCode(err, core.ErrorInvalidSignature) {
			writeMessage(w, http.StatusUnauthorized, "Invalid webhook signature")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}
	writeMessage(w, result.StatusCode, result.Message)
}

// FlattenHeaders lower-cases names and joins repeated values with commas.
func FlattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[strings.ToLower(key)] = strings.Join(values, ",")
	}
	return flat
}

func decodeBody(raw []byte) map[string]any {
	body := map[string]any{}
	if len(raw) == 0 {
		return body
	}
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return map[string]any{}
	}
	return body
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
