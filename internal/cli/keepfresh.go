package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-salla/adapters/gojob"
	"github.com/goliatone/go-salla/adapters/gologger"
	"github.com/goliatone/go-salla/adapters/zaplogger"
	"github.com/goliatone/go-salla/core"
	"golang.org/x/sync/errgroup"
)

// credentialFiles serves credential JSON files as a CredentialSource and
// CredentialSink. The key is the cleaned file path and only the files it was
// built with are readable or writable.
type credentialFiles struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newCredentialFiles(paths []string) (*credentialFiles, error) {
	files := &credentialFiles{paths: map[string]struct{}{}}
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		files.paths[filepath.Clean(path)] = struct{}{}
	}
	if len(files.paths) == 0 {
		return nil, fmt.Errorf("cli: --keep-fresh needs at least one credential file")
	}
	return files, nil
}

func (f *credentialFiles) keys() []string {
	out := make([]string, 0, len(f.paths))
	for path := range f.paths {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func (f *credentialFiles) known(key string) (string, error) {
	key = filepath.Clean(strings.TrimSpace(key))
	if _, ok := f.paths[key]; !ok {
		return "", fmt.Errorf("cli: unknown credential %q", key)
	}
	return key, nil
}

func (f *credentialFiles) LoadCredential(_ context.Context, key string) (core.Credential, error) {
	path, err := f.known(key)
	if err != nil {
		return core.Credential{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return readCredential(path)
}

func (f *credentialFiles) ProposeCredential(_ context.Context, key string, cred core.Credential) error {
	path, err := f.known(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeCredential(path, cred)
}

// keepFresh keeps credential files refreshed in the background: a ticker
// enqueues one refresh job per file on the SQL job queue and a worker drains
// it through the token manager.
type keepFresh struct {
	files    *credentialFiles
	enqueuer core.JobEnqueuer
	worker   *gojob.RefreshWorker
	interval time.Duration
	buffer   int
	logger   glog.Logger
}

func newKeepFresh(ctx context.Context, rt *runtime, files *credentialFiles, interval time.Duration, buffer int) (*keepFresh, error) {
	queue, err := openRefreshQueue(ctx, rt.database)
	if err != nil {
		return nil, err
	}
	log := gologger.Component("jobs", zaplogger.NewProvider(rt.logger), rt.logger)
	policy := gojob.RetryPolicy{MaxAttempts: 5, MaxDelay: time.Minute, DeadLetterOnMax: true}

	runner := gojob.NewRefreshJobRunner(files, files, rt.client.Service().Tokens(), log)
	worker := gojob.NewRefreshWorker(gojob.NewDequeuerAdapter(queue, policy), runner, nil)
	worker.Logger = log
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &keepFresh{
		files:    files,
		enqueuer: gojob.NewEnqueuerAdapter(queue),
		worker:   worker,
		interval: interval,
		buffer:   buffer,
		logger:   log,
	}, nil
}

// Run schedules and processes refresh jobs until ctx is done.
func (k *keepFresh) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return k.worker.Run(ctx)
	})
	group.Go(func() error {
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()
		for {
			k.scheduleAll(ctx)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (k *keepFresh) scheduleAll(ctx context.Context) {
	for _, key := range k.files.keys() {
		if err := gojob.ScheduleRefresh(ctx, k.enqueuer, key, k.buffer); err != nil && ctx.Err() == nil {
			k.logger.Warn("salla refresh job schedule failed", "credential_key", key, "error", err)
		}
	}
}
