package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:salla_rate_limit_state,alias:srl"`

	ID                string         `bun:"id,pk"`
	Environment       string         `bun:"environment,notnull"`
	ClientID          string         `bun:"client_id,notnull"`
	BucketKey         string         `bun:"bucket_key,notnull"`
	Limit             int            `bun:"limit_count,notnull"`
	Remaining         int            `bun:"remaining,notnull"`
	ResetAt           *time.Time     `bun:"reset_at,nullzero"`
	RetryAfterSeconds *int           `bun:"retry_after_seconds"`
	ThrottledUntil    *time.Time     `bun:"throttled_until,nullzero"`
	LastStatus        int            `bun:"last_status,notnull"`
	Attempts          int            `bun:"attempts,notnull"`
	Metadata          map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt         time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
