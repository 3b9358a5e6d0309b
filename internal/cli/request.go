package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-salla/core"
	"github.com/spf13/cobra"
)

type requestOptions struct {
	credentialPath string
	method         string
	endpoint       string
	body           string
	query          []string
	all            bool
}

type requestOutput struct {
	StatusCode int   `json:"statusCode,omitempty"`
	Attempts   int   `json:"attempts,omitempty"`
	Pages      int   `json:"pages,omitempty"`
	Data       any   `json:"data"`
	Items      []any `json:"items,omitempty"`
}

func newRequestCommand(root *rootOptions) *cobra.Command {
	opts := &requestOptions{}
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Call the Salla admin API with a credential file",
		Example: `  salla request --credential store.json --endpoint /orders --all
  salla request --credential store.json --method PUT --endpoint /orders/12 --body '{"status_id":1}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cred, err := readCredential(opts.credentialPath)
			if err != nil {
				return err
			}
			body, query, err := opts.payload()
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd.Context(), root, runtimeOverrides{})
			if err != nil {
				return err
			}
			defer rt.Close()

			service := rt.client.Service()
			var out requestOutput
			var updated core.Credential
			var changed bool
			if opts.all {
				result, err := service.CollectAll(cmd.Context(), &cred, opts.method, opts.endpoint, body, query)
				if err != nil {
					return err
				}
				out = requestOutput{Pages: result.Pages, Items: result.Items, Data: result.Items}
				updated, changed = result.Credential, result.CredentialUpdated
			} else {
				result, err := service.Execute(cmd.Context(), &cred, core.Request{
					Method:   opts.method,
					Endpoint: opts.endpoint,
					Body:     body,
					Query:    query,
				})
				if err != nil {
					return err
				}
				out = requestOutput{
					StatusCode: result.Response.StatusCode,
					Attempts:   result.Attempts,
					Data:       result.Response.Body,
				}
				updated, changed = result.Credential, result.CredentialUpdated
			}
			if changed {
				if err := writeCredential(opts.credentialPath, updated); err != nil {
					return err
				}
				rt.logger.Info("salla credential refreshed and saved", "path", opts.credentialPath)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.credentialPath, "credential", "", "credential JSON file")
	flags.StringVar(&opts.method, "method", http.MethodGet, "HTTP method")
	flags.StringVar(&opts.endpoint, "endpoint", "", "admin API endpoint, e.g. /orders")
	flags.StringVar(&opts.body, "body", "", "JSON object sent as the request body")
	flags.StringArrayVar(&opts.query, "query", nil, "query parameter as key=value, repeatable")
	flags.BoolVar(&opts.all, "all", false, "follow pagination and return every item")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

func (o *requestOptions) payload() (map[string]any, map[string]any, error) {
	var body map[string]any
	if trimmed := strings.TrimSpace(o.body); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &body); err != nil {
			return nil, nil, fmt.Errorf("cli: --body must be a JSON object: %w", err)
		}
	}
	var query map[string]any
	for _, pair := range o.query {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, nil, fmt.Errorf("cli: --query expects key=value, got %q", pair)
		}
		if query == nil {
			query = map[string]any{}
		}
		query[key] = strings.TrimSpace(value)
	}
	return body, query, nil
}
