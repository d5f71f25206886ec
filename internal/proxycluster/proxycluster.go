// Package proxycluster implements ProxyCluster: an optional TCP
// connection balancer in front of an app's workers, used under the "proxy"
// clustering strategy rather than SO_REUSEPORT.
package proxycluster

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/arcflow/fleetd/internal/metrics"
)

// Proxy owns one TCP listener and round-robins accepted connections to the
// current set of worker ports. It carries no session state — a
// connection's upstream choice is fixed at connect time for its lifetime.
type Proxy struct {
	appName  string
	listener net.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	order  []int       // worker ids in round-robin order
	ports  map[int]int // worker id -> internal port
	next   int         // round-robin cursor into order
	wg     sync.WaitGroup
	closed bool
}

// Listen opens the TCP listener on addr (typically "127.0.0.1:<publicPort>")
// and starts accepting connections in a background goroutine. appName labels
// the proxy_bytes_total metric.
func Listen(appName, addr string, logger *slog.Logger) (*Proxy, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxycluster: listen on %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Proxy{appName: appName, listener: ln, logger: logger, ports: make(map[int]int)}
	p.wg.Add(1)
	go p.acceptLoop()
	return p, nil
}

func (p *Proxy) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return // listener closed
		}
		go p.handle(conn)
	}
}

func (p *Proxy) handle(conn net.Conn) {
	defer conn.Close()

	port, ok := p.nextPort()
	if !ok {
		p.logger.Warn("proxycluster: rejecting connection, no workers registered")
		return
	}

	upstream, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		p.logger.Warn("proxycluster: dial upstream failed", "port", port, "error", err)
		return
	}
	defer upstream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, _ := io.Copy(upstream, conn)
		metrics.AddProxyBytes(p.appName, "in", n)
	}()
	go func() {
		defer wg.Done()
		n, _ := io.Copy(conn, upstream)
		metrics.AddProxyBytes(p.appName, "out", n)
	}()
	wg.Wait()
}

// nextPort picks the next worker's port in round-robin order, skipping
// anything not currently registered. Returns false if no workers are
// registered.
func (p *Proxy) nextPort() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return 0, false
	}
	for i := 0; i < len(p.order); i++ {
		id := p.order[p.next%len(p.order)]
		p.next++
		if port, ok := p.ports[id]; ok {
			return port, true
		}
	}
	return 0, false
}

// AddWorker registers workerID's internal port, called as workers reach
// online.
func (p *Proxy) AddWorker(workerID, port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.ports[workerID]; !exists {
		p.order = append(p.order, workerID)
	}
	p.ports[workerID] = port
}

// RemoveWorker deregisters workerID, called as it leaves service.
func (p *Proxy) RemoveWorker(workerID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ports, workerID)
	for i, id := range p.order {
		if id == workerID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Stop closes the listener and waits for the accept loop to exit. In-flight
// connections are left to drain on their own; Stop does not forcibly close
// them.
func (p *Proxy) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	_ = p.listener.Close()
	p.wg.Wait()
}
