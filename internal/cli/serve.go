package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	salla "github.com/goliatone/go-salla"
	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/webhooks"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	addr            string
	events          []string
	secret          string
	raw             bool
	skipSignature   bool
	dedupeWindow    time.Duration
	shutdownTimeout time.Duration
	keepFresh       []string
	refreshInterval time.Duration
	refreshBuffer   int
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive Salla webhooks and print accepted events as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			overrides := runtimeOverrides{
				webhook:       opts.applyFlags(cmd),
				clientOptions: opts.sinkOptions(cmd.OutOrStdout()),
			}
			var files *credentialFiles
			if len(opts.keepFresh) > 0 {
				if strings.TrimSpace(root.databaseDSN) == "" {
					return fmt.Errorf("cli: --keep-fresh requires --database-dsn for the refresh queue")
				}
				if files, err = newCredentialFiles(opts.keepFresh); err != nil {
					return err
				}
				overrides.serviceOptions = []core.Option{core.WithCredentialSource(files)}
			}

			rt, err := buildRuntime(ctx, root, overrides)
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			listener, err := net.Listen("tcp", opts.addr)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Handler:           newRouter(rt),
				ReadHeaderTimeout: 10 * time.Second,
			}
			if files != nil {
				refresher, err := newKeepFresh(ctx, rt, files, opts.refreshInterval, opts.refreshBuffer)
				if err != nil {
					_ = listener.Close()
					return err
				}
				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				defer cancel()
				refreshDone := make(chan error, 1)
				go func() {
					refreshErr := refresher.Run(ctx)
					if refreshErr != nil {
						rt.logger.Error("salla credential refresher stopped", "error", refreshErr)
					}
					refreshDone <- refreshErr
					cancel()
				}()
				defer func() {
					cancel()
					if refreshErr := <-refreshDone; err == nil {
						err = refreshErr
					}
				}()
				rt.logger.Info("salla credential refresher started", "credentials", len(files.paths), "interval", opts.refreshInterval.String())
			}

			rt.logger.Info("salla webhook server listening", "addr", listener.Addr().String())
			return serveUntil(ctx, srv, listener, opts.shutdownTimeout)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "listen address")
	flags.StringSliceVar(&opts.events, "events", nil, "event types to accept, * for all")
	flags.StringVar(&opts.secret, "secret", "", "webhook secret used to verify x-salla-signature")
	flags.BoolVar(&opts.raw, "raw", false, "emit the raw webhook body instead of the flattened event")
	flags.BoolVar(&opts.skipSignature, "skip-signature", false, "accept deliveries without verifying the signature")
	flags.DurationVar(&opts.dedupeWindow, "dedupe-window", 0, "drop redeliveries seen within this window")
	flags.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	flags.StringSliceVar(&opts.keepFresh, "keep-fresh", nil, "credential files to keep refreshed in the background")
	flags.DurationVar(&opts.refreshInterval, "keep-fresh-interval", 5*time.Minute, "how often the refresh jobs are scheduled")
	flags.IntVar(&opts.refreshBuffer, "keep-fresh-buffer", 0, "refresh when the token expires within this many minutes, 0 uses the credential's own buffer")
	return cmd
}

// applyFlags overrides the configured receiver settings with the flags the
// user actually set.
func (o *serveOptions) applyFlags(cmd *cobra.Command) func(*webhooks.Config) {
	return func(cfg *webhooks.Config) {
		flags := cmd.Flags()
		if flags.Changed("events") {
			cfg.Events = stringList(o.events)
		}
		if flags.Changed("secret") {
			cfg.Secret = o.secret
		}
		if flags.Changed("raw") {
			cfg.ReturnRawData = o.raw
		}
		if flags.Changed("skip-signature") {
			cfg.SkipSignatureValidation = o.skipSignature
		}
	}
}

func (o *serveOptions) sinkOptions(out io.Writer) []salla.Option {
	webhookOpts := []webhooks.Option{webhooks.WithEventSink(newJSONLinesSink(out))}
	if o.dedupeWindow > 0 {
		webhookOpts = append(webhookOpts, webhooks.WithDuplicateFilter(
			webhooks.NewWindowDuplicateFilter(webhooks.WindowOptions{Window: o.dedupeWindow}),
		))
	}
	return []salla.Option{salla.WithWebhookOptions(webhookOpts...)}
}

func newRouter(rt *runtime) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodPost, "/webhook", rt.client.WebhookHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	return r
}

// serveUntil serves on listener until ctx is done, then drains in-flight
// requests for at most timeout.
func serveUntil(ctx context.Context, srv *http.Server, listener net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
