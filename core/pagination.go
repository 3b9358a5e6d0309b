package core

import (
	"context"
	"fmt"
	"strings"
)

type CollectResult struct {
	Items             []any
	Pages             int
	Credential        Credential
	CredentialUpdated bool
}

// Paginator walks page-numbered list endpoints through the executor.
type Paginator struct {
	executor *RequestExecutor
	pageSize int
	maxPages int
	obs      instrumentation
}

func NewPaginator(executor *RequestExecutor, pageSize int, maxPages int, logger Logger, metrics MetricsRecorder) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Paginator{
		executor: executor,
		pageSize: pageSize,
		maxPages: maxPages,
		obs:      newInstrumentation(logger, metrics),
	}
}

// CollectAll requests pages until the API reports the last page, a page
// comes back short or a response carries no list. Items keep page order.
// On error the partial result still carries the latest credential.
func (p *Paginator) CollectAll(
	ctx context.Context,
	cred *Credential,
	method string,
	endpoint string,
	body map[string]any,
	baseQuery map[string]any,
) (CollectResult, error) {
	if p == nil || p.executor == nil {
		return CollectResult{}, fmt.Errorf("core: paginator is not configured")
	}
	if cred == nil {
		return CollectResult{}, NewMissingCredentialsError()
	}

	current := cred.Clone()
	result := CollectResult{Items: []any{}, Credential: current}
	span := p.obs.start(ctx, "collect_all", map[string]any{
		"method":      strings.ToUpper(strings.TrimSpace(method)),
		"endpoint":    strings.TrimSpace(endpoint),
		"environment": string(current.Environment),
	})
	finish := func(err error) (CollectResult, error) {
		span.set("pages", result.Pages)
		span.set("items", len(result.Items))
		span.end(err)
		return result, err
	}

	for page := 1; ; page++ {
		if page > p.maxPages {
			p.obs.logWarn(ctx, "salla pagination stopped at page cap", map[string]any{
				"endpoint":  endpoint,
				"max_pages": p.maxPages,
				"items":     len(result.Items),
			})
			return finish(nil)
		}

		query := cloneAnyMap(baseQuery)
		if query == nil {
			query = map[string]any{}
		}
		query["page"] = page
		query["per_page"] = p.pageSize

		executed, err := p.executor.Execute(ctx, &current, Request{
			Method:   method,
			Endpoint: endpoint,
			Body:     body,
			Query:    query,
		})
		if executed.CredentialUpdated {
			current = executed.Credential
			result.Credential = current
			result.CredentialUpdated = true
		}
		if err != nil {
			return finish(err)
		}
		result.Pages = page

		items, pagination, ok := extractPage(executed.Response.Body)
		if !ok {
			return finish(nil)
		}
		result.Items = append(result.Items, items...)

		if pagination != nil {
			if pagination.currentPage >= pagination.lastPage {
				return finish(nil)
			}
			continue
		}
		if len(items) < p.pageSize {
			return finish(nil)
		}
	}
}

type pageInfo struct {
	currentPage int64
	lastPage    int64
}

// extractPage reads {data, pagination} envelopes and bare arrays. ok is false
// when the body holds no recognizable list.
func extractPage(body any) ([]any, *pageInfo, bool) {
	switch typed := body.(type) {
	case []any:
		return typed, nil, true
	case map[string]any:
		items, isList := typed["data"].([]any)
		if !isList {
			return nil, nil, false
		}
		raw, hasPagination := typed["pagination"].(map[string]any)
		if !hasPagination {
			return items, nil, true
		}
		return items, &pageInfo{
			currentPage: readInt64(raw["current_page"]),
			lastPage:    readInt64(raw["last_page"]),
		}, true
	default:
		return nil, nil, false
	}
}
