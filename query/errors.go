package query

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-salla/core"
)

func missingDependency(dependency string) error {
	return goerrors.New("query: "+dependency+" is required", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal).
		WithMetadata(map[string]any{"dependency": dependency})
}

func invalidField(field string, message string) error {
	err := core.NewValidationError(field, message)
	err.Message = "query: validation failed"
	return err
}
