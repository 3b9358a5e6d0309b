package webhooks

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// DuplicateFilter drops redelivered webhooks. Salla retries a delivery it
// did not see acknowledged in time, so the same event and body can arrive
// more than once.
type DuplicateFilter interface {
	Seen(req InboundRequest, eventType string) bool
}

type DuplicateKeyExtractor func(req InboundRequest, eventType string) (string, bool)

type WindowOptions struct {
	Window     time.Duration
	MaxEntries int
	ExtractKey DuplicateKeyExtractor
	Now        func() time.Time
}

// WindowDuplicateFilter reports a delivery as seen when the same key arrived
// within Window. It keeps at most MaxEntries keys, dropping the least
// recently seen first.
type WindowDuplicateFilter struct {
	window     time.Duration
	maxEntries int
	extractKey DuplicateKeyExtractor
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // oldest sighting at the front
}

type sighting struct {
	key    string
	seenAt time.Time
}

func NewWindowDuplicateFilter(opts WindowOptions) *WindowDuplicateFilter {
	window := opts.Window
	if window <= 0 {
		window = time.Minute
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	extractKey := opts.ExtractKey
	if extractKey == nil {
		extractKey = DefaultDuplicateKey
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &WindowDuplicateFilter{
		window:     window,
		maxEntries: maxEntries,
		extractKey: extractKey,
		now:        now,
		entries:    map[string]*list.Element{},
		order:      list.New(),
	}
}

func (f *WindowDuplicateFilter) Seen(req InboundRequest, eventType string) bool {
	if f == nil {
		return false
	}
	key, ok := f.extractKey(req, eventType)
	if !ok || strings.TrimSpace(key) == "" {
		return false
	}

	now := f.now().UTC()
	f.mu.Lock()
	defer f.mu.Unlock()

	duplicate := false
	if elem, ok := f.entries[key]; ok {
		entry := elem.Value.(*sighting)
		duplicate = now.Sub(entry.seenAt) < f.window
		entry.seenAt = now
		f.order.MoveToBack(elem)
	} else {
		f.entries[key] = f.order.PushBack(&sighting{key: key, seenAt: now})
	}
	f.evict(now)
	return duplicate
}

// evict drops expired sightings from the front, then the oldest ones until
// the filter is back within maxEntries.
func (f *WindowDuplicateFilter) evict(now time.Time) {
	for front := f.order.Front(); front != nil; front = f.order.Front() {
		entry := front.Value.(*sighting)
		if f.order.Len() <= f.maxEntries && now.Sub(entry.seenAt) < f.window {
			return
		}
		f.order.Remove(front)
		delete(f.entries, entry.key)
	}
}

// DefaultDuplicateKey keys a delivery by event type and body digest. Empty
// bodies are never treated as duplicates.
func DefaultDuplicateKey(req InboundRequest, eventType string) (string, bool) {
	if len(req.RawBody) == 0 {
		return "", false
	}
	digest := sha256.Sum256(req.RawBody)
	return strings.ToLower(strings.TrimSpace(eventType)) + ":" + hex.EncodeToString(digest[:]), true
}

var _ DuplicateFilter = (*WindowDuplicateFilter)(nil)
