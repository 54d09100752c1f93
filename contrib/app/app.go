// Package app runs the set of transport.Server lifecycles that make up
// one process: the HTTP proxy server plus any sidecar servers a plugin
// might contribute, started together and stopped together on signal.
package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sluiceproxy/sluice/contrib/log"
	"github.com/sluiceproxy/sluice/contrib/transport"
)

// Option configures an App.
type Option func(*App)

func ID(id string) Option           { return func(a *App) { a.id = id } }
func Name(name string) Option       { return func(a *App) { a.name = name } }
func Version(v string) Option       { return func(a *App) { a.version = v } }
func StopTimeout(d time.Duration) Option {
	return func(a *App) { a.stopTimeout = d }
}
func Servers(servers ...transport.Server) Option {
	return func(a *App) { a.servers = servers }
}

// App owns the lifecycle of every registered transport.Server: starts
// them concurrently, and on SIGINT/SIGTERM stops them concurrently
// within stopTimeout.
type App struct {
	id          string
	name        string
	version     string
	stopTimeout time.Duration
	servers     []transport.Server
}

// New builds an App from opts.
func New(opts ...Option) *App {
	a := &App{stopTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every server and blocks until SIGINT/SIGTERM, then stops
// every server. The first start error aborts the run; stop errors are
// logged, not returned, and Run returns nil after a shutdown signal.
func (a *App) Run() error {
	log.Infof("starting %s id=%s version=%s", a.name, a.id, a.version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, len(a.servers))
	var wg sync.WaitGroup
	for _, srv := range a.servers {
		wg.Add(1)
		go func(s transport.Server) {
			defer wg.Done()
			if err := s.Start(ctx); err != nil {
				errc <- err
			}
		}(srv)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		a.stopAll()
		wg.Wait()
		return err
	case <-sigc:
		log.Infof("received shutdown signal")
	}

	a.stopAll()
	wg.Wait()
	return nil
}

func (a *App) stopAll() {
	ctx, cancel := context.WithTimeout(context.Background(), a.stopTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, srv := range a.servers {
		wg.Add(1)
		go func(s transport.Server) {
			defer wg.Done()
			if err := s.Stop(ctx); err != nil {
				log.Errorf("server stop error: %v", err)
			}
		}(srv)
	}
	wg.Wait()
}
