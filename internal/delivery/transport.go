package delivery

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/destination"
)

// Transport moves generator lines to one destination.
type Transport interface {
	// Name labels the transport in metrics, spans and events.
	Name() string
	// Connect acquires whatever the transport sends through.
	Connect(ctx context.Context) error
	// Send delivers one line. It returns the text to forward to the caller
	// and how many events the line accounts for at the destination.
	Send(ctx context.Context, line string) (string, int, error)
	// Close releases the transport. Safe to call without Connect.
	Close() error
}

// SyslogTransport writes newline-terminated lines to a syslog listener, one
// write per line on TCP and one datagram per line on UDP.
type SyslogTransport struct {
	conn         destination.SyslogConnection
	dialTimeout  time.Duration
	writeTimeout time.Duration

	stream net.Conn
	packet net.PacketConn
	raddr  net.Addr
}

// NewSyslogTransport creates an unconnected syslog transport.
func NewSyslogTransport(conn destination.SyslogConnection, dialTimeout, writeTimeout time.Duration) *SyslogTransport {
	return &SyslogTransport{conn: conn, dialTimeout: dialTimeout, writeTimeout: writeTimeout}
}

func (t *SyslogTransport) Name() string {
	if t.conn.Protocol == destination.ProtocolTCP {
		return "syslog_tcp"
	}
	return "syslog_udp"
}

// Connect dials TCP destinations. UDP destinations get an unconnected packet
// socket so a missing listener never fails the run.
func (t *SyslogTransport) Connect(ctx context.Context) error {
	addr := t.conn.Address()
	switch t.conn.Protocol {
	case destination.ProtocolTCP:
		d := net.Dialer{Timeout: t.dialTimeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return t.connectErr(err)
		}
		t.stream = c
		return nil

	case destination.ProtocolUDP:
		raddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return t.connectErr(err)
		}
		pc, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return t.connectErr(err)
		}
		t.packet, t.raddr = pc, raddr
		return nil
	}
	return t.connectErr(errors.New("unsupported protocol"))
}

func (t *SyslogTransport) connectErr(err error) error {
	return &TransportError{Op: OpConnect, Protocol: t.conn.Protocol, Addr: t.conn.Address(), Err: err}
}

// Send trims line, appends "\n" and writes it. Every written line is one
// delivered event.
func (t *SyslogTransport) Send(_ context.Context, line string) (string, int, error) {
	text := strings.TrimSpace(line)
	payload := []byte(text + "\n")
	deadline := time.Now().Add(t.writeTimeout)

	var err error
	switch {
	case t.stream != nil:
		if err = t.stream.SetWriteDeadline(deadline); err == nil {
			_, err = t.stream.Write(payload)
		}
	case t.packet != nil:
		if err = t.packet.SetWriteDeadline(deadline); err == nil {
			_, err = t.packet.WriteTo(payload, t.raddr)
		}
	default:
		err = errors.New("transport not connected")
	}
	if err != nil {
		return "", 0, &TransportError{Op: OpSend, Protocol: t.conn.Protocol, Addr: t.conn.Address(), Err: err}
	}
	return text, 1, nil
}

func (t *SyslogTransport) Close() error {
	var err error
	if t.stream != nil {
		err = t.stream.Close()
		t.stream = nil
	}
	if t.packet != nil {
		err = errors.Join(err, t.packet.Close())
		t.packet = nil
	}
	return err
}
