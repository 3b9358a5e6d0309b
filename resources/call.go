package resources

import (
	"net/url"
	"strings"

	"github.com/goliatone/go-salla/core"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Call is one resource operation. Body is sent only for operations that
// accept one; Filters and Query apply to getAll.
type Call struct {
	Resource  Resource
	Operation Operation
	ID        string
	Body      map[string]any
	Filters   core.Filters
	Query     map[string]any
	ReturnAll bool
	Limit     int
}

// Build resolves call against the table into an executor request.
func (t *Table) Build(call Call) (core.Request, Endpoint, error) {
	endpoint, err := t.Lookup(call.Resource, call.Operation)
	if err != nil {
		return core.Request{}, Endpoint{}, err
	}
	id := strings.TrimSpace(call.ID)
	if endpoint.RequiresID && id == "" {
		return core.Request{}, endpoint, core.NewValidationError("id", "is required for "+string(call.Resource)+" "+string(call.Operation))
	}

	req := core.Request{
		Method:   endpoint.Method,
		Endpoint: endpoint.Path(id),
	}
	if endpoint.AcceptsBody && len(call.Body) > 0 {
		req.Body = call.Body
	}
	if endpoint.Paginated {
		query := map[string]any{}
		for key, value := range call.Query {
			query[key] = value
		}
		for key, value := range core.ParseFilters(call.Filters) {
			query[key] = value
		}
		if !call.ReturnAll {
			limit, err := resolveLimit(call.Limit)
			if err != nil {
				return core.Request{}, endpoint, err
			}
			query["per_page"] = limit
		}
		if len(query) > 0 {
			req.Query = query
		}
	}
	return req, endpoint, nil
}

func resolveLimit(limit int) (int, error) {
	switch {
	case limit == 0:
		return DefaultLimit, nil
	case limit < 0 || limit > MaxLimit:
		return 0, core.NewValidationError("limit", "must be between 1 and 100")
	default:
		return limit, nil
	}
}

func escapeID(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}
