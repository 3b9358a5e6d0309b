package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-salla/core"
	"github.com/google/uuid"
)

// stateNamespace seeds the name-based row ids of salla_rate_limit_state.
var stateNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://api.salla.dev/rate-limit-state"))

// stateRecordID derives the row id from the bucket key, so every process
// sharing the table agrees on it without a lookup.
func stateRecordID(key core.RateLimitKey) string {
	name := strings.Join([]string{key.Environment, key.ClientID, key.BucketKey}, "\x00")
	return uuid.NewSHA1(stateNamespace, []byte(name)).String()
}

func rateLimitStateHandlers() repository.ModelHandlers[*rateLimitStateRecord] {
	return repository.ModelHandlers[*rateLimitStateRecord]{
		NewRecord: func() *rateLimitStateRecord { return &rateLimitStateRecord{} },
		GetID: func(record *rateLimitStateRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(strings.TrimSpace(record.ID))
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record *rateLimitStateRecord, id uuid.UUID) {
			if record != nil {
				record.ID = id.String()
			}
		},
		GetIdentifier: func() string { return "id" },
		GetIdentifierValue: func(record *rateLimitStateRecord) string {
			if record == nil {
				return ""
			}
			if id := strings.TrimSpace(record.ID); id != "" {
				return id
			}
			return stateRecordID(core.RateLimitKey{
				Environment: record.Environment,
				ClientID:    record.ClientID,
				BucketKey:   record.BucketKey,
			})
		},
	}
}
