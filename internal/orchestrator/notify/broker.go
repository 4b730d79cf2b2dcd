package notify

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
)

// completionSubject is the NATS subject completion callbacks are
// published on when the embedded broker is enabled, an alternate
// transport to the spec 6 HTTP POST rather than a replacement for it.
const completionSubject = "agentctl.completions"

// Broker wraps an embedded NATS server and a client connection to it,
// grounded on the teacher's internal/nats/server.go EmbeddedServer
// (server.Options shape, ReadyForConnections gate, Shutdown/WaitForShutdown
// pair).
type Broker struct {
	server *natsserver.Server
	conn   *nats.Conn
	port   int
}

// StartBroker starts an embedded NATS server on port (0 picks a free
// port) and connects a publisher client to it.
func StartBroker(port int) (*Broker, error) {
	opts := &natsserver.Options{
		Host:       "127.0.0.1",
		Port:       port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		return nil, fmt.Errorf("embedded nats server not ready for connections")
	}

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats server: %w", err)
	}

	port = opts.Port
	if tcpAddr, ok := srv.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	return &Broker{server: srv, conn: conn, port: port}, nil
}

// PublishCompletion publishes a completion callback to the embedded
// broker's well-known subject.
func (b *Broker) PublishCompletion(cb model.CompletionCallback) error {
	data, err := json.Marshal(cb)
	if err != nil {
		return fmt.Errorf("marshal completion callback: %w", err)
	}
	return b.conn.Publish(completionSubject, data)
}

// URL returns the broker's client connection URL.
func (b *Broker) URL() string {
	return b.conn.ConnectedUrl()
}

// Shutdown drains the publisher connection and stops the embedded server.
func (b *Broker) Shutdown() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
		b.server.WaitForShutdown()
	}
}
