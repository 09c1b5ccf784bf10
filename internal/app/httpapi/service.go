package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Shoalstone/MASH/internal/app"
	core "github.com/Shoalstone/MASH/internal/app/core/service"
	"github.com/Shoalstone/MASH/pkg/logger"
)

// Service exposes the HTTP API and fits into the system manager lifecycle.
type Service struct {
	addr    string
	handler http.Handler
	log     *logger.Logger

	mu      sync.Mutex
	server  *http.Server
	running bool
	bound   string
}

// NewService builds the HTTP service bound to addr, serving application.
func NewService(application *app.Application, addr string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &Service{
		addr:    addr,
		handler: NewHandler(application, log),
		log:     log,
	}
}

func (s *Service) Name() string { return "http" }

func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         s.Name(),
		Domain:       "transport",
		Layer:        core.LayerIngress,
		Capabilities: []string{"auth", "poll", "wait", "action"},
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // /wait long-polls up to a tick interval
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.running = true
	s.server = server
	s.bound = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
		s.mu.Lock()
		if s.server == server {
			s.running = false
			s.bound = ""
		}
		s.mu.Unlock()
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	s.mu.Lock()
	if s.server == server {
		s.running = false
		s.bound = ""
	}
	s.mu.Unlock()
	return err
}

// Addr returns the bound address (after Start) or the configured address.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.addr
}
