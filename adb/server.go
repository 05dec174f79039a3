package adb

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"devsup-go/events"
)

const heartbeatInterval = time.Second

// Server owns the connection to the ADB server and the set of tunneled
// ports. A heartbeat worker probes the server once per second, flips the
// connectivity flag, and re-establishes the port set after a reconnect.
type Server struct {
	client *Client
	bus    *events.Bus

	connected atomic.Bool

	mu    sync.Mutex
	ports []Port

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewServer builds the tunnel manager and launches its heartbeat worker.
// The events bus may be nil.
func NewServer(client *Client, bus *events.Bus) *Server {
	s := &Server{
		client: client,
		bus:    bus,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	logrus.Debug("Spawning ADB heartbeat worker")
	go s.run()
	return s
}

// IsConnected reports whether the last heartbeat reached the ADB server.
func (s *Server) IsConnected() bool { return s.connected.Load() }

// RunningPorts returns the tracked port set.
func (s *Server) RunningPorts() []Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Port, len(s.ports))
	copy(out, s.ports)
	return out
}

// AddPort establishes a tunneled port and tracks it so it survives
// reconnects. With the server unreachable the port is tracked and
// established by the next successful heartbeat.
func (s *Server) AddPort(t PortType, serverPort, devicePort uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.ports {
		if p.Type == t && p.LocalPort == devicePort {
			return &ErrServerFailure{Op: "add port", Reason: "port is already tracked"}
		}
	}

	port := Port{Type: t, LocalPort: devicePort, RemotePort: serverPort}
	if s.connected.Load() {
		if err := s.apply(port); err != nil {
			return err
		}
	}
	s.ports = append(s.ports, port)
	return nil
}

// RemovePort tears a tracked port down.
func (s *Server) RemovePort(t PortType, devicePort uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, p := range s.ports {
		if p.Type == t && p.LocalPort == devicePort {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &ErrServerFailure{Op: "remove port", Reason: "port is not tracked"}
	}

	if s.connected.Load() {
		var err error
		if t == PortReverse {
			err = s.client.RemoveReverse(devicePort)
		} else {
			err = s.client.RemoveForward(s.ports[idx].RemotePort)
		}
		if err != nil {
			return err
		}
	}
	s.ports = append(s.ports[:idx], s.ports[idx+1:]...)
	return nil
}

// Shutdown stops the heartbeat worker and waits for it to exit.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		logrus.Debug("Shutting down ADB heartbeat worker")
		close(s.stop)
	})
	<-s.done
}

func (s *Server) apply(p Port) error {
	if p.Type == PortReverse {
		return s.client.AddReverse(p.LocalPort, p.RemotePort)
	}
	return s.client.AddForward(p.RemotePort, p.LocalPort)
}

func (s *Server) publishState(state string) {
	if s.bus != nil {
		s.bus.Publish(events.T("tunnel", "state"), state, true)
	}
}

func (s *Server) run() {
	defer close(s.done)

	tick := time.NewTicker(heartbeatInterval)
	defer tick.Stop()

	s.publishState("down")

	for {
		select {
		case <-s.stop:
			logrus.Debug("ADB worker received shutdown signal, stopping")
			return
		case <-tick.C:
			s.heartbeat()
		}
	}
}

func (s *Server) heartbeat() {
	if s.connected.Load() {
		if _, err := s.client.Devices(); err != nil {
			logrus.Debugf("ADB server died: %v", err)
			s.connected.Store(false)
			s.publishState("down")
		}
		return
	}

	logrus.Debug("Connecting to ADB server")
	if _, err := s.client.Version(); err != nil {
		logrus.Debugf("Failed to connect to ADB server: %v", err)
		return
	}

	logrus.Debug("Connected to ADB server")
	s.connected.Store(true)
	s.publishState("up")
	s.reapplyPorts()
}

// reapplyPorts re-establishes every tracked port after a reconnect.
func (s *Server) reapplyPorts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.ports {
		if err := s.apply(p); err != nil {
			logrus.Warnf("Failed to re-establish %s port %d: %v", p.Type, p.LocalPort, err)
		}
	}
}

func parseDeviceList(raw string) []DeviceInfo {
	var out []DeviceInfo
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			out = append(out, DeviceInfo{Serial: fields[0], State: fields[1]})
		}
	}
	return out
}
