// Package publisher fans a single post out to every configured network and
// aggregates the per-network outcomes.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blacktop/polyglot/internal/xpost"
	"github.com/blacktop/polyglot/internal/xpost/bluesky"
	"github.com/blacktop/polyglot/internal/xpost/mastodon"
	"github.com/blacktop/polyglot/internal/xpost/twitter"
	"github.com/samber/lo"
)

// ErrDisposed is returned when a Publisher is used after Cleanup.
var ErrDisposed = errors.New("publisher has been cleaned up")

// Config holds one optional sub-config per network. A nil sub-config
// leaves that network unregistered.
type Config struct {
	Bluesky  *bluesky.Config
	Mastodon *mastodon.Config
	Twitter  *twitter.Config

	// DefaultVisibility applies when a publish call supplies none.
	DefaultVisibility xpost.Visibility
}

// State is a point in the Publisher lifecycle.
type State int

const (
	StateConstructed State = iota
	StateInitializing
	StateReady
	StateCleaningUp
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateCleaningUp:
		return "cleaning-up"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithObserver replaces the default logging observer.
func WithObserver(obs Observer) Option {
	return func(p *Publisher) {
		if obs != nil {
			p.observe = obs
		}
	}
}

// Publisher owns the registry of network clients.
type Publisher struct {
	visibility xpost.Visibility
	observe    Observer

	mu      sync.RWMutex
	state   State
	clients map[xpost.Network]xpost.Client
}

// New creates one client per network present in cfg.
func New(cfg Config, opts ...Option) *Publisher {
	clients := make(map[xpost.Network]xpost.Client)
	if cfg.Bluesky != nil {
		clients[xpost.Bluesky] = bluesky.New(*cfg.Bluesky)
	}
	if cfg.Mastodon != nil {
		clients[xpost.Mastodon] = mastodon.New(*cfg.Mastodon)
	}
	if cfg.Twitter != nil {
		clients[xpost.Twitter] = twitter.New(*cfg.Twitter)
	}
	return newPublisher(clients, cfg.DefaultVisibility, opts...)
}

func newPublisher(clients map[xpost.Network]xpost.Client, visibility xpost.Visibility, opts ...Option) *Publisher {
	p := &Publisher{
		visibility: visibility,
		observe:    logObserver,
		state:      StateConstructed,
		clients:    clients,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the current lifecycle state.
func (p *Publisher) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Networks returns the registered networks, sorted.
func (p *Publisher) Networks() []xpost.Network {
	p.mu.RLock()
	defer p.mu.RUnlock()
	networks := lo.Keys(p.clients)
	xpost.SortNetworks(networks)
	return networks
}

// Initialize initializes every client concurrently. If any client fails,
// the ones that succeeded are cleaned up again and the joined
// InitializationErrors are returned.
func (p *Publisher) Initialize(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateReady:
		p.mu.Unlock()
		return nil
	case StateInitializing:
		p.mu.Unlock()
		return errors.New("publisher is already initializing")
	case StateCleaningUp, StateDisposed:
		p.mu.Unlock()
		return ErrDisposed
	}
	p.state = StateInitializing
	clients := p.snapshot()
	p.mu.Unlock()

	errs := make([]error, len(clients))
	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client xpost.Client) {
			defer wg.Done()
			errs[i] = initialize(ctx, client)
		}(i, client)
	}
	wg.Wait()

	var failed []error
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed = append(failed, err)
		p.observe(Event{Kind: EventInitFailed, Network: clients[i].Network(), Err: err})
	}

	if len(failed) > 0 {
		p.rollback(ctx, clients, errs)
	}

	p.mu.Lock()
	if p.state != StateInitializing {
		// Cleanup ran while clients were logging in.
		p.mu.Unlock()
		if len(failed) == 0 {
			p.rollback(ctx, clients, errs)
		}
		return errors.Join(append(failed, ErrDisposed)...)
	}
	if len(failed) > 0 {
		p.state = StateConstructed
	} else {
		p.state = StateReady
	}
	p.mu.Unlock()
	return errors.Join(failed...)
}

// rollback cleans up the clients whose Initialize succeeded.
func (p *Publisher) rollback(ctx context.Context, clients []xpost.Client, errs []error) {
	for i, client := range clients {
		if errs[i] == nil {
			p.cleanupClient(ctx, client)
		}
	}
}

// Publish sends post to networks, or to every registered network when none
// are given. The result holds exactly one entry per requested network.
func (p *Publisher) Publish(ctx context.Context, post xpost.Post, networks ...xpost.Network) xpost.Results {
	return p.PublishWithOptions(ctx, post, nil, networks...)
}

// PublishWithOptions is Publish with per-network options.
func (p *Publisher) PublishWithOptions(ctx context.Context, post xpost.Post, opts map[xpost.Network]xpost.Options, networks ...xpost.Network) xpost.Results {
	if len(networks) == 0 {
		networks = p.Networks()
	}
	networks = lo.Uniq(networks)

	p.mu.RLock()
	clients := make([]xpost.Client, len(networks))
	for i, n := range networks {
		clients[i] = p.clients[n]
	}
	p.mu.RUnlock()

	results := make([]xpost.Result, len(networks))
	var wg sync.WaitGroup
	for i, network := range networks {
		client := clients[i]
		if client == nil {
			results[i] = xpost.Failed(network, &xpost.NotConfiguredError{Network: network})
			continue
		}
		wg.Add(1)
		go func(i int, network xpost.Network, client xpost.Client) {
			defer wg.Done()
			results[i] = publish(ctx, network, client, post, p.options(opts, network))
		}(i, network, client)
	}
	wg.Wait()

	out := make(xpost.Results, len(networks))
	for i, network := range networks {
		out[network] = results[i]
		p.observe(Event{Kind: EventPublished, Network: network, Result: &results[i], Err: results[i].Err})
	}
	return out
}

// VerifyCredentials checks every registered client concurrently.
func (p *Publisher) VerifyCredentials(ctx context.Context) map[xpost.Network]bool {
	p.mu.RLock()
	clients := p.snapshot()
	p.mu.RUnlock()

	valid := make([]bool, len(clients))
	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client xpost.Client) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					valid[i] = false
				}
			}()
			valid[i] = client.VerifyCredentials(ctx)
		}(i, client)
	}
	wg.Wait()

	out := make(map[xpost.Network]bool, len(clients))
	for i, client := range clients {
		out[client.Network()] = valid[i]
	}
	return out
}

// Cleanup releases every client concurrently and clears the registry.
// Individual failures are reported to the observer, never returned.
func (p *Publisher) Cleanup(ctx context.Context) {
	p.mu.Lock()
	if p.state == StateDisposed || p.state == StateCleaningUp {
		p.mu.Unlock()
		return
	}
	p.state = StateCleaningUp
	clients := p.snapshot()
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(client xpost.Client) {
			defer wg.Done()
			p.cleanupClient(ctx, client)
		}(client)
	}
	wg.Wait()

	p.mu.Lock()
	p.clients = map[xpost.Network]xpost.Client{}
	p.state = StateDisposed
	p.mu.Unlock()
}

func (p *Publisher) cleanupClient(ctx context.Context, client xpost.Client) {
	if err := cleanup(ctx, client); err != nil {
		p.observe(Event{Kind: EventCleanupFailed, Network: client.Network(), Err: err})
	}
}

func (p *Publisher) options(opts map[xpost.Network]xpost.Options, network xpost.Network) *xpost.Options {
	o, ok := opts[network]
	if !ok && p.visibility == "" {
		return nil
	}
	if o.Visibility == "" {
		o.Visibility = p.visibility
	}
	return &o
}

// snapshot returns the clients in network order. Callers hold p.mu.
func (p *Publisher) snapshot() []xpost.Client {
	networks := lo.Keys(p.clients)
	xpost.SortNetworks(networks)
	return lo.Map(networks, func(n xpost.Network, _ int) xpost.Client { return p.clients[n] })
}

func initialize(ctx context.Context, client xpost.Client) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &xpost.InitializationError{Network: client.Network(), Err: panicError(r)}
		}
	}()
	if err := client.Initialize(ctx); err != nil {
		var ie *xpost.InitializationError
		if errors.As(err, &ie) {
			return err
		}
		return &xpost.InitializationError{Network: client.Network(), Err: err}
	}
	return nil
}

func publish(ctx context.Context, network xpost.Network, client xpost.Client, post xpost.Post, opts *xpost.Options) (res xpost.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = xpost.Failed(network, &xpost.PlatformError{Network: network, Err: panicError(r)})
		}
	}()
	res = client.Publish(ctx, post, opts)
	res.Network = network
	if !res.Success {
		res.PostID, res.URL = "", ""
		if res.Err == nil {
			res.Err = &xpost.PlatformError{Network: network}
		}
	} else {
		res.Err = nil
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	return res
}

func cleanup(ctx context.Context, client xpost.Client) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &xpost.CleanupError{Network: client.Network(), Err: panicError(r)}
		}
	}()
	if err := client.Cleanup(ctx); err != nil {
		var ce *xpost.CleanupError
		if errors.As(err, &ce) {
			return err
		}
		return &xpost.CleanupError{Network: client.Network(), Err: err}
	}
	return nil
}

// panicError converts a recovered value into an error. Values that carry
// no message become the default unknown error.
func panicError(r any) error {
	switch v := r.(type) {
	case error:
		return v
	case string:
		if v != "" {
			return errors.New(v)
		}
	}
	return nil
}
