// Package blurhost starts the blur server inside a host application.
//
// A host builds its blur.Network, declares its functions and classes, then
// calls Start once. The application name is read from the environment
// variable named by the config (BLUR_APP by default); when it is unset
// nothing is started and the host carries on without live updates.
//
//	net := blur.NewNetwork(cfg.NetworkOptions(""))
//	// ... declare modules, MakeBlurCapable, MarkClassBlurCapable ...
//	host, err := blurhost.Start(ctx, net, cfg)
//	if err != nil {
//		log.Printf("live updates disabled: %v", err)
//	} else {
//		defer host.Close()
//	}
package blurhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dyluth/blur/internal/config"
	"github.com/dyluth/blur/internal/directory"
	"github.com/dyluth/blur/internal/journal"
	"github.com/dyluth/blur/internal/protocol"
	"github.com/dyluth/blur/internal/transport"
	"github.com/dyluth/blur/pkg/blur"
	"github.com/redis/go-redis/v9"
)

// ErrNoEnvironment is returned by Start when the application environment
// variable is unset.
var ErrNoEnvironment = errors.New("no application environment")

// Host is a running blur server and the resources attached to it.
type Host struct {
	app     string
	server  *transport.Server
	journal *journal.Journal

	registry     *directory.RedisRegistry
	announcement directory.Announcement

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	closeOnce sync.Once
}

// Start serves net for the application named by the environment. Errors
// leave nothing running; the caller decides whether they matter.
func Start(ctx context.Context, net *blur.Network, cfg *config.BlurConfig) (*Host, error) {
	app := cfg.AppName()
	if app == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrNoEnvironment, cfg.AppEnv)
	}
	net.SetEnvironment(app)

	ctx, cancel := context.WithCancel(ctx)
	h := &Host{app: app, cancel: cancel}

	if cfg.Journal != nil {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Printf("[Host] Update journal disabled: %v", err)
		} else {
			h.journal = j
		}
	}

	var j protocol.Journal
	if h.journal != nil {
		j = h.journal
	}
	reg := protocol.NewRegistry(net, j)

	h.server = transport.NewServer(app, reg, cfg.ServerOptions())
	if err := h.server.Start(ctx); err != nil {
		log.Printf("[Host] Failed to start server for %s: %v", app, err)
		h.Close()
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	if cfg.Registry != nil {
		if err := h.announce(ctx, cfg.Registry); err != nil {
			log.Printf("[Host] Registry announcement disabled: %v", err)
		}
	}

	h.started = true
	h.logEvent("server_started", map[string]interface{}{
		"port":      h.server.Port(),
		"journal":   h.journal != nil,
		"announced": h.registry != nil,
	})
	return h, nil
}

func (h *Host) announce(ctx context.Context, cfg *config.RegistryConfig) error {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to parse registry URL: %w", err)
	}
	r, err := directory.NewRedisRegistry(opts, cfg.Namespace, cfg.TTL)
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	a, err := r.Announce(ctx, directory.Announcement{
		App:  h.app,
		Port: h.server.Port(),
		PID:  os.Getpid(),
		Host: hostname,
	})
	if err != nil {
		r.Close()
		return err
	}
	h.registry = r
	h.announcement = a

	h.wg.Add(1)
	go h.heartbeat(ctx, cfg.Heartbeat)
	return nil
}

func (h *Host) heartbeat(ctx context.Context, every time.Duration) {
	defer h.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.registry.Announce(ctx, h.announcement); err != nil && ctx.Err() == nil {
				log.Printf("[Host] Heartbeat failed: %v", err)
			}
		}
	}
}

// App returns the application environment name.
func (h *Host) App() string { return h.app }

// Port returns the port the server is bound to.
func (h *Host) Port() int { return h.server.Port() }

// InstanceID returns the registry instance id, or "" when not announced.
func (h *Host) InstanceID() string { return h.announcement.InstanceID }

// Close stops the server, withdraws the announcement and closes the
// journal. It is safe to call more than once.
func (h *Host) Close() error {
	var errs []error
	h.closeOnce.Do(func() {
		h.cancel()
		h.wg.Wait()

		if h.server != nil {
			if err := h.server.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if h.registry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := h.registry.Withdraw(ctx, h.app, h.announcement.InstanceID); err != nil {
				errs = append(errs, err)
			}
			cancel()
			h.registry.Close()
		}
		if h.journal != nil {
			if err := h.journal.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if h.started {
			h.logEvent("server_stopped", map[string]interface{}{})
		}
	})
	return errors.Join(errs...)
}

// logEvent writes one structured JSON line for a host lifecycle event.
func (h *Host) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "blurhost"
	data["event_type"] = eventType
	data["instance"] = h.app

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Host] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
