package gocommand

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// MessageTypePrefix namespaces every message handled through this adapter.
const MessageTypePrefix = "salla."

var (
	ErrRegistryNotConfigured = errors.New("gocommand: registry is not configured")
	ErrDuplicateMessageType  = errors.New("gocommand: message type already registered")
)

// ValidateMessageContract checks that msg carries a salla message type and,
// when it implements Validate, that its payload is valid.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: %T must implement Type() string", msg)
	}
	return checkMessageType(m.Type())
}

func checkMessageType(msgType string) error {
	msgType = strings.TrimSpace(msgType)
	if msgType == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	if !strings.HasPrefix(msgType, MessageTypePrefix) {
		return fmt.Errorf("gocommand: message type %q is outside the %q namespace", msgType, MessageTypePrefix)
	}
	return nil
}

// RegistryAdapter wraps a go-command registry and remembers which salla
// message types were subscribed through it, so a second RegisterSalla on the
// same registry fails instead of double dispatching.
type RegistryAdapter struct {
	registry *command.Registry

	mu    sync.Mutex
	types map[string]struct{}
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry, types: map[string]struct{}{}}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

// MessageTypes lists the message types subscribed through the adapter.
func (a *RegistryAdapter) MessageTypes() []string {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.types))
	for msgType := range a.types {
		out = append(out, msgType)
	}
	sort.Strings(out)
	return out
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.RegisterCommand(cmd)
}

// RegisterQuery goes through the same registry path as commands; go-command
// tells the two apart by the handler signature.
func (a *RegistryAdapter) RegisterQuery(qry any) error {
	return a.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if err := a.ready(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("gocommand: resolver key is required")
	}
	return a.registry.AddResolver(key, resolver)
}

// AddQueueResolver mirrors every registered handler into a go-job queue
// registry so salla commands can be enqueued as well as dispatched.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a.ready() != nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return ErrRegistryNotConfigured
	}
	return nil
}

// claim reserves msgType for one subscription. The returned release undoes it.
func (a *RegistryAdapter) claim(msgType string) (func(), error) {
	if err := checkMessageType(msgType); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.types == nil {
		a.types = map[string]struct{}{}
	}
	if _, ok := a.types[msgType]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMessageType, msgType)
	}
	a.types[msgType] = struct{}{}
	return func() {
		a.mu.Lock()
		delete(a.types, msgType)
		a.mu.Unlock()
	}, nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe registers cmd with the registry and subscribes it on
// the global dispatcher. The message type of T must be in the salla namespace
// and not already subscribed through adapter.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	return subscribe[T](adapter, cmd, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	})
}

// RegisterAndSubscribeQuery is the query counterpart of RegisterAndSubscribe.
func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return subscribe[T](adapter, qry, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	})
}

func subscribe[T any](
	adapter *RegistryAdapter,
	handler any,
	attach func() commanddispatcher.Subscription,
) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	release, err := adapter.claim(messageTypeOf[T]())
	if err != nil {
		return nil, err
	}
	sub := attach()
	if err := adapter.RegisterCommand(handler); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		release()
		return nil, err
	}
	return &claimedSubscription{Subscription: sub, release: release}, nil
}

func messageTypeOf[T any]() string {
	var zero T
	if m, ok := any(zero).(command.Message); ok {
		return m.Type()
	}
	return ""
}

// claimedSubscription frees the message type when unsubscribed so the
// handler can be registered again.
type claimedSubscription struct {
	commanddispatcher.Subscription
	once    sync.Once
	release func()
}

func (s *claimedSubscription) Unsubscribe() {
	s.once.Do(func() {
		if s.Subscription != nil {
			s.Subscription.Unsubscribe()
		}
		if s.release != nil {
			s.release()
		}
	})
}
