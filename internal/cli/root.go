// Package cli implements the salla command line: a webhook server and one-shot
// refresh and request commands over a credential file.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath  string
	envFile     string
	logLevel    string
	databaseDSN string
	redisURL    string
}

// NewRootCommand builds the command tree. out receives command results and
// is where the serve sink writes events.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "salla",
		Short:         "Salla API connector",
		Long:          "salla calls the Salla admin API with a stored credential and receives Salla webhooks.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before reading SALLA_* variables")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	flags.StringVar(&opts.databaseDSN, "database-dsn", "", "persist rate limit state: sqlite3:<dsn> or postgres://...")
	flags.StringVar(&opts.redisURL, "redis-url", "", "share the token refresh lock through redis")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newRefreshCommand(opts))
	root.AddCommand(newRequestCommand(opts))
	return root
}

// Execute runs the CLI against os.Args.
func Execute(version string) error {
	root := NewRootCommand(os.Stdout)
	root.Version = version
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
