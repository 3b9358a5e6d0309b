package transport

import (
	"context"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-salla/core"
)

// statusClientClosedRequest is reported when the caller cancels mid-flight.
const statusClientClosedRequest = 499

// restFailure describes one way a REST round trip can fail before a status
// code comes back from the Salla API.
type restFailure struct {
	category goerrors.Category
	code     int
	message  string
}

var (
	failMissingClient = restFailure{goerrors.CategoryInternal, http.StatusInternalServerError, "transport: rest adapter requires an http client"}
	failMissingURL    = restFailure{goerrors.CategoryBadInput, http.StatusBadRequest, "transport: request url is required"}
	failInvalidURL    = restFailure{goerrors.CategoryBadInput, http.StatusBadRequest, "transport: invalid request url"}
	failBuildRequest  = restFailure{goerrors.CategoryBadInput, http.StatusBadRequest, "transport: create http request"}
	failExecute       = restFailure{goerrors.CategoryExternal, http.StatusBadGateway, "transport: execute http request"}
	failTimeout       = restFailure{goerrors.CategoryExternal, http.StatusGatewayTimeout, "transport: salla api did not respond in time"}
	failCanceled      = restFailure{goerrors.CategoryInternal, statusClientClosedRequest, "transport: request canceled"}
	failReadBody      = restFailure{goerrors.CategoryExternal, http.StatusBadGateway, "transport: read response body"}
	failBodyTooLarge  = restFailure{goerrors.CategoryExternal, http.StatusBadGateway, "transport: response body exceeds limit"}
)

// errorf builds the go-errors envelope for f. Every envelope carries the
// adapter kind in its metadata.
func (f restFailure) errorf(source error, metadata map[string]any) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(f.message, f.category)
	} else {
		err = goerrors.Wrap(source, f.category, f.message)
	}
	meta := map[string]any{"adapter": KindREST}
	for key, value := range metadata {
		meta[key] = value
	}
	return err.WithCode(f.code).WithTextCode(textCodeFor(f.category)).WithMetadata(meta)
}

// executeFailure tells a deadline or cancellation apart from a plain network
// error so callers can decide whether retrying makes sense.
func executeFailure(ctx context.Context, err error) restFailure {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return failTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return failCanceled
	default:
		return failExecute
	}
}

func textCodeFor(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadInput
	case goerrors.CategoryRateLimit:
		return core.ErrorRateLimited
	case goerrors.CategoryExternal:
		return core.ErrorAPI
	default:
		return core.ErrorInternal
	}
}
