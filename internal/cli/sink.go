package cli

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/goliatone/go-salla/webhooks"
)

// jsonLinesSink writes one JSON object per accepted webhook event.
type jsonLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

type sinkLine struct {
	DeliveryID string         `json:"delivery_id"`
	ReceivedAt time.Time      `json:"received_at"`
	Event      webhooks.Event `json:"event"`
}

func newJSONLinesSink(w io.Writer) *jsonLinesSink {
	return &jsonLinesSink{
		enc: json.NewEncoder(w),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *jsonLinesSink) HandleEvent(_ context.Context, deliveryID string, event webhooks.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(sinkLine{
		DeliveryID: deliveryID,
		ReceivedAt: s.now(),
		Event:      event,
	})
}

var _ webhooks.EventSink = (*jsonLinesSink)(nil)
