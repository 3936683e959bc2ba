package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"dbgate/internal/backend"
	"dbgate/internal/config"
	"dbgate/internal/database"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound = errors.New("database not configured")
	ErrClosed   = errors.New("connections closed")
)

// Connections holds one client per configured database
type Connections struct {
	clients map[string]database.Interface
	logger  *zap.Logger
	closed  bool
	mu      sync.Mutex
}

// New creates a client for every configured database. Clients connect
// lazily; call InitializeAll to open their pools up front.
func New(cfg *config.Config, logger *zap.Logger, opts ...database.Option) (*Connections, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clients := make(map[string]database.Interface, len(cfg.Databases))
	for _, name := range cfg.Names() {
		db := cfg.Databases[name]

		clientOpts := make([]database.Option, 0, len(opts)+1)
		clientOpts = append(clientOpts, opts...)
		clientOpts = append(clientOpts, database.WithLogger(logger.With(zap.String("database", name))))

		client, err := backend.New(db.Driver, db.ConnectionConfig, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", name, err)
		}
		clients[name] = client
	}

	return NewWithClients(clients, logger), nil
}

// NewWithClients wraps existing clients
func NewWithClients(clients map[string]database.Interface, logger *zap.Logger) *Connections {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connections{clients: clients, logger: logger}
}

// Get returns the client registered under name
func (d *Connections) Get(name string) (database.Interface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	client, ok := d.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return client, nil
}

// Names returns the registered database names, sorted
func (d *Connections) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.clients))
	for name := range d.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitializeAll initializes every client concurrently and returns the
// first failure. Clients that did initialize stay ready.
func (d *Connections) InitializeAll(ctx context.Context) error {
	clients, err := d.snapshot()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for name, client := range clients {
		name, client := name, client
		g.Go(func() error {
			if err := client.Initialize(ctx); err != nil {
				return fmt.Errorf("database %s: %w", name, err)
			}
			d.logger.Info("Database initialized",
				zap.String("database", name),
				zap.String("driver", client.Driver()))
			return nil
		})
	}
	return g.Wait()
}

// HealthCheck checks every client concurrently
func (d *Connections) HealthCheck(ctx context.Context) (map[string]*database.HealthCheckResult, error) {
	clients, err := d.snapshot()
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*database.HealthCheckResult, len(clients))
	)

	var g errgroup.Group
	for name, client := range clients {
		name, client := name, client
		g.Go(func() error {
			res := client.HealthCheck(ctx)
			if res.Status != database.HealthHealthy && res.Status != database.HealthUnknown {
				d.logger.Warn("Database unhealthy",
					zap.String("database", name),
					zap.String("status", string(res.Status)),
					zap.String("error", res.Error))
			}

			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// Close closes all clients
func (d *Connections) Close() (errs []error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Check if already closed
	if d.closed {
		return nil
	}

	names := make([]string, 0, len(d.clients))
	for name := range d.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := d.clients[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close error: %w", name, err))
		}
	}

	d.clients = nil
	d.closed = true

	return errs
}

func (d *Connections) snapshot() (map[string]database.Interface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	clients := make(map[string]database.Interface, len(d.clients))
	for name, client := range d.clients {
		clients[name] = client
	}
	return clients, nil
}
