package discovery

import (
	"fmt"
	"log"
	"os"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_sketchroom._tcp"
	Domain      = "local."
)

// Announcer advertises the server on the local network over mDNS.
type Announcer struct {
	server *zeroconf.Server
}

// InstanceName is the mDNS instance name for this host.
func InstanceName(host string) string {
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", "SketchRoom", host)
}

func Announce(port int) (*Announcer, error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		InstanceName(host),
		ServiceType,
		Domain,
		port,
		[]string{"txtv=0", "path=/ws"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	log.Printf("mDNS Service registered: %s on port %d", ServiceType, port)
	return &Announcer{server: server}, nil
}

func (a *Announcer) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	log.Println("mDNS Service unregistered")
}
