package core

import (
	"strings"
	"time"
)

// sallaDateLayout is the timestamp format the admin API expects in filters.
const sallaDateLayout = "2006-01-02 15:04:05"

// Filters are the list filters shared by most getAll endpoints.
type Filters struct {
	Status   []string
	DateFrom *time.Time
	DateTo   *time.Time
	Search   string
}

// ParseFilters converts list filters into query parameters. Empty filters
// produce an empty map.
func ParseFilters(filters Filters) map[string]any {
	query := map[string]any{}

	statuses := make([]string, 0, len(filters.Status))
	for _, status := range filters.Status {
		if status = strings.TrimSpace(status); status != "" {
			statuses = append(statuses, status)
		}
	}
	if len(statuses) > 0 {
		query["status"] = strings.Join(statuses, ",")
	}
	if filters.DateFrom != nil && !filters.DateFrom.IsZero() {
		query["created_from"] = FormatDate(*filters.DateFrom)
	}
	if filters.DateTo != nil && !filters.DateTo.IsZero() {
		query["created_to"] = FormatDate(*filters.DateTo)
	}
	if search := strings.TrimSpace(filters.Search); search != "" {
		query["search"] = search
	}
	return query
}

func FormatDate(value time.Time) string {
	return value.Format(sallaDateLayout)
}
