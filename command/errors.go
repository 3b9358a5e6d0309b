package command

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-salla/core"
)

// missingDependency reports a handler built without the collaborator it runs
// against. It is a wiring fault, never the caller's.
func missingDependency(dependency string) error {
	return goerrors.New("command: "+dependency+" is required", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal).
		WithMetadata(map[string]any{"dependency": dependency})
}

func invalidField(field string, message string) error {
	err := core.NewValidationError(field, message)
	err.Message = "command: validation failed"
	return err
}

// invalidCredential keeps the credential validation cause in the chain.
func invalidCredential(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, "command: invalid credential").
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}
