package announce

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	// ServiceType is the DNS-SD type the hub browses for.
	ServiceType = "_uc-integration._tcp"
	domain      = "local."
)

// Info describes the driver in the TXT record.
type Info struct {
	ID        string
	Name      string
	Version   string
	Developer string
	WSPath    string
	Port      int
}

// TXT returns the record entries in key=value form.
func (i Info) TXT() []string {
	return []string{
		"name=" + i.Name,
		"ver=" + i.Version,
		"developer=" + i.Developer,
		"ws_path=" + i.WSPath,
	}
}

type server interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces)
}

// Announcer keeps the driver registered on mDNS until Shutdown.
type Announcer struct {
	info     Info
	logger   logrus.FieldLogger
	register registerFunc

	mu     sync.Mutex
	server server
}

func New(info Info, logger logrus.FieldLogger) *Announcer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Announcer{
		info:     info,
		logger:   logger.WithField("component", "announce"),
		register: zeroconfRegister,
	}
}

// Start registers the service on all interfaces. Calling it twice is a no-op.
func (a *Announcer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}
	if a.info.Port <= 0 {
		return fmt.Errorf("announce %s: invalid port %d", a.info.ID, a.info.Port)
	}

	srv, err := a.register(a.info.ID, ServiceType, domain, a.info.Port, a.info.TXT(), nil)
	if err != nil {
		return fmt.Errorf("register %s: %w", ServiceType, err)
	}
	a.server = srv
	a.logger.WithFields(logrus.Fields{"instance": a.info.ID, "port": a.info.Port}).Info("mdns service registered")
	return nil
}

// Shutdown withdraws the registration.
func (a *Announcer) Shutdown() {
	a.mu.Lock()
	srv := a.server
	a.server = nil
	a.mu.Unlock()
	if srv != nil {
		srv.Shutdown()
		a.logger.Info("mdns service withdrawn")
	}
}
