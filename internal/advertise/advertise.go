package advertise

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/dmdmdm-nz/zeroconf"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/reachd/internal/reachmgr"
	"github.com/dmdmdm-nz/reachd/pkg/version"
)

const (
	ServiceType = "_reachd._tcp"
	Domain      = "local."
)

type server interface {
	SetText(text []string)
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces)
}

// Service advertises the API over DNS-SD and keeps the TXT record in step
// with the watched targets.
type Service struct {
	instance string
	port     int
	register registerFunc

	evCh    <-chan reachmgr.StatusEvent
	evUnsub func()

	mu      sync.Mutex
	server  server
	targets map[string]bool // target -> reachable
	closed  bool
}

// NewService creates an advertiser for the API listening on port. An empty
// instance name defaults to "reachd on <hostname>".
func NewService(instance string, port int) *Service {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		instance = fmt.Sprintf("reachd on %s", host)
	}
	return &Service{
		instance: instance,
		port:     port,
		register: zeroconfRegister,
		targets:  make(map[string]bool),
	}
}

// AttachReachMgr wires the status stream (must be called before Start).
func (s *Service) AttachReachMgr(ch <-chan reachmgr.StatusEvent, unsub func()) {
	s.evCh = ch
	s.evUnsub = unsub
}

func (s *Service) Start(ctx context.Context) error {
	logger := log.WithFields(log.Fields{
		"instance": s.instance,
		"service":  ServiceType,
		"port":     s.port,
	})

	s.mu.Lock()
	srv, err := s.register(s.instance, ServiceType, Domain, s.port, s.textLocked(), nil)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("register %s: %w", ServiceType, err)
	}
	s.server = srv
	s.mu.Unlock()

	logger.Info("Advertising reachd API")
	defer logger.Info("Stopped advertising reachd API")

	if s.evCh == nil {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.evCh:
			if !ok {
				<-ctx.Done()
				return nil
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Service) Close() error {
	if s.evUnsub != nil {
		s.evUnsub()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
	}
	return nil
}

func (s *Service) handleEvent(ev reachmgr.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ev.Target.Target
	switch ev.Type {
	case reachmgr.TargetAdded, reachmgr.StatusChanged:
		s.targets[key] = ev.Target.Status.IsReachable()
	case reachmgr.TargetRemoved:
		delete(s.targets, key)
	}
	if s.server != nil {
		s.server.SetText(s.textLocked())
	}
}

func (s *Service) textLocked() []string {
	reachable := 0
	for _, ok := range s.targets {
		if ok {
			reachable++
		}
	}
	return []string{
		"version=" + version.Version,
		fmt.Sprintf("targets=%d", len(s.targets)),
		fmt.Sprintf("reachable=%d", reachable),
	}
}
