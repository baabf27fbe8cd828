package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject peer buses share.
const DefaultSubject = "vexdash.bus"

// NatsTransport is a Transport over a NATS subject.
type NatsTransport struct {
	conn    *nats.Conn
	subject string
}

// DialNats connects to an existing NATS server.
func DialNats(url, subject string) (*NatsTransport, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	conn, err := nats.Connect(url, nats.Name("vexdashd"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newNatsTransport(conn, subject), nil
}

func newNatsTransport(conn *nats.Conn, subject string) *NatsTransport {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NatsTransport{conn: conn, subject: subject}
}

// Publish sends data on the shared subject.
func (t *NatsTransport) Publish(data []byte) error {
	if t == nil || t.conn == nil {
		return errors.New("nats transport not connected")
	}
	return t.conn.Publish(t.subject, data)
}

// Subscribe registers handler for every message on the shared subject.
// Returns an unsubscribe function.
func (t *NatsTransport) Subscribe(handler func(data []byte)) (func(), error) {
	if t == nil || t.conn == nil {
		return nil, errors.New("nats transport not connected")
	}
	sub, err := t.conn.Subscribe(t.subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains the connection.
func (t *NatsTransport) Close() {
	if t == nil || t.conn == nil {
		return
	}
	_ = t.conn.Drain()
}

// EmbeddedNats runs an in-process NATS server so peer daemons on the same
// host can share a bus without external infrastructure.
type EmbeddedNats struct {
	ns             *server.Server
	transport      *NatsTransport
	host           string
	port           int
	subject        string
	startupTimeout time.Duration
	logger         *log.Logger
	stopOnce       sync.Once
}

// EmbeddedNatsOpt configures an EmbeddedNats.
type EmbeddedNatsOpt func(*EmbeddedNats)

func WithHost(host string) EmbeddedNatsOpt {
	return func(n *EmbeddedNats) { n.host = host }
}

func WithPort(port int) EmbeddedNatsOpt {
	return func(n *EmbeddedNats) { n.port = port }
}

func WithSubject(subject string) EmbeddedNatsOpt {
	return func(n *EmbeddedNats) { n.subject = subject }
}

func WithStartTimeout(timeout time.Duration) EmbeddedNatsOpt {
	return func(n *EmbeddedNats) { n.startupTimeout = timeout }
}

func WithLogger(logger *log.Logger) EmbeddedNatsOpt {
	return func(n *EmbeddedNats) { n.logger = logger }
}

// NewEmbeddedNats builds the server without starting it. Port 0 picks a free port.
func NewEmbeddedNats(opts ...EmbeddedNatsOpt) (*EmbeddedNats, error) {
	n := &EmbeddedNats{
		host:           "127.0.0.1",
		subject:        DefaultSubject,
		startupTimeout: 10 * time.Second,
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	port := n.port
	if port == 0 {
		port = server.RANDOM_PORT
	}
	ns, err := server.NewServer(&server.Options{
		Host:   n.host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	n.ns = ns
	return n, nil
}

// Start launches the server and connects the in-process client.
func (n *EmbeddedNats) Start(ctx context.Context) error {
	n.ns.Start()
	if !n.ns.ReadyForConnections(n.startupTimeout) {
		n.ns.Shutdown()
		return errors.New("nats server not ready for connections")
	}
	conn, err := nats.Connect(n.ns.ClientURL(), nats.Name("vexdashd-embedded"))
	if err != nil {
		n.ns.Shutdown()
		return fmt.Errorf("creating nats client connection: %w", err)
	}
	n.transport = newNatsTransport(conn, n.subject)
	n.logger.Printf("vexdashd: embedded nats listening on %s", n.ns.ClientURL())

	go func() {
		<-ctx.Done()
		n.Stop()
	}()
	return nil
}

// Transport returns the in-process client transport. Nil before Start.
func (n *EmbeddedNats) Transport() *NatsTransport {
	if n == nil {
		return nil
	}
	return n.transport
}

// ClientURL returns the URL peers should dial.
func (n *EmbeddedNats) ClientURL() string {
	if n == nil || n.ns == nil {
		return ""
	}
	return n.ns.ClientURL()
}

// Stop closes the client and shuts the server down. Safe to call twice.
func (n *EmbeddedNats) Stop() {
	if n == nil {
		return
	}
	n.stopOnce.Do(func() {
		if n.transport != nil && n.transport.conn != nil {
			n.transport.conn.Close()
		}
		n.ns.Shutdown()
		n.ns.WaitForShutdown()
	})
}
