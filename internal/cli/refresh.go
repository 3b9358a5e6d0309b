package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newRefreshCommand(root *rootOptions) *cobra.Command {
	var credentialPath string
	var write bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the OAuth token of a credential file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cred, err := readCredential(credentialPath)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd.Context(), root, runtimeOverrides{})
			if err != nil {
				return err
			}
			defer rt.Close()

			updated, err := rt.client.Service().Refresh(cmd.Context(), cred)
			if err != nil {
				return err
			}
			if write {
				if err := writeCredential(credentialPath, updated); err != nil {
					return err
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(updated)
		},
	}
	cmd.Flags().StringVar(&credentialPath, "credential", "", "credential JSON file")
	cmd.Flags().BoolVar(&write, "write", true, "write the refreshed credential back to the file")
	return cmd
}
