// Package directory discovers the application processes running a blur
// server on this machine.
//
// Discovery probes the port range upwards with an APP request and stops at
// the first port nothing listens on. A server binds the first free port of
// the same range, so an unrelated process holding a port below it hides that
// server from the probe. Hosts that announce themselves in a registry can be
// found with RefreshFromRegistry instead.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/dyluth/blur/internal/transport"
)

// ErrUnknownServer is returned for targets that are neither a port nor a
// discovered application name.
var ErrUnknownServer = errors.New("unknown server")

// Sender sends one request to the server listening on port.
type Sender interface {
	Send(ctx context.Context, port int, command string) (string, error)
}

// Lister returns the servers announced in a registry.
type Lister interface {
	List(ctx context.Context) ([]Announcement, error)
}

// Directory maps application names to server ports.
type Directory struct {
	sender    Sender
	basePort  int
	portCount int

	mu      sync.RWMutex
	servers map[string]int
}

// New creates a directory probing portCount ports from basePort.
func New(sender Sender, basePort, portCount int) *Directory {
	return &Directory{
		sender:    sender,
		basePort:  basePort,
		portCount: portCount,
		servers:   make(map[string]int),
	}
}

// RefreshServers probes the port range and replaces the known servers with
// what it found. Probing stops at the first port that refuses or fails the
// connection; a port that accepts but does not answer in time is skipped.
func (d *Directory) RefreshServers(ctx context.Context) error {
	found := make(map[string]int)

	for port := d.basePort; port < d.basePort+d.portCount; port++ {
		reply, err := d.sender.Send(ctx, port, "APP")
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrTimedOut) {
				log.Printf("[Directory] Port %d did not identify itself: %v", port, err)
				continue
			}
			log.Printf("[Directory] Probe stopped at port %d: %v", port, err)
			break
		}
		if reply == "" {
			continue
		}
		found[reply] = port
	}

	d.mu.Lock()
	d.servers = found
	d.mu.Unlock()

	log.Printf("[Directory] Found %d server(s)", len(found))
	return nil
}

// RefreshFromRegistry merges the servers announced in registry into the known
// servers. Announced ports win over probed ones for the same name.
func (d *Directory) RefreshFromRegistry(ctx context.Context, registry Lister) error {
	announced, err := registry.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list announced servers: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range announced {
		d.servers[a.App] = a.Port
	}
	return nil
}

// ServerNames returns the known application names, sorted.
func (d *Directory) ServerNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.servers))
	for name := range d.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Servers returns a copy of the name to port map.
func (d *Directory) Servers() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]int, len(d.servers))
	for name, port := range d.servers {
		out[name] = port
	}
	return out
}

// Port returns the port of the named application.
func (d *Directory) Port(name string) (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	port, ok := d.servers[name]
	return port, ok
}

// Resolve turns a target into a port. A decimal target is a port; anything
// else must be a known application name.
func (d *Directory) Resolve(target string) (int, error) {
	if port, err := strconv.Atoi(target); err == nil {
		return port, nil
	}
	if port, ok := d.Port(target); ok {
		return port, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownServer, target)
}

// Send resolves target and sends command, returning the raw reply.
func (d *Directory) Send(ctx context.Context, command, target string) (string, error) {
	port, err := d.Resolve(target)
	if err != nil {
		return "", err
	}
	return d.sender.Send(ctx, port, command)
}

// Communicate resolves target, sends command and decodes the reply.
func (d *Directory) Communicate(ctx context.Context, command, target string) (any, error) {
	reply, err := d.Send(ctx, command, target)
	if err != nil {
		return nil, err
	}
	return transport.Decode(reply), nil
}
