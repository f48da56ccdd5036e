package adapter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

// RCONConfig describes how to reach the game server's command channel.
type RCONConfig struct {
	Host           string
	Port           int
	Password       string
	DialTimeout    time.Duration // default 5s
	AuthTimeout    time.Duration // default 5s
}

func (c RCONConfig) normalized() RCONConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 5 * time.Second
	}
	return c
}

// rconTransport implements Transport over a line-delimited TCP channel: one
// command per line in, one response line out, authenticated at connect time
// by a shared secret. This is the "remote console" framing spec §6 calls
// for, modeled as request/response text rather than the byte-exact Source
// RCON binary packet layout — every request still carries exactly one
// command string and gets exactly one response string, which is all the
// adapter above this type depends on.
type rconTransport struct {
	cfg RCONConfig

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewRCONTransport returns a Transport factory suitable for Adapter's
// newTransport field.
func NewRCONTransport(cfg RCONConfig) func() Transport {
	cfg = cfg.normalized()
	return func() Transport {
		return &rconTransport{cfg: cfg}
	}
}

func (t *rconTransport) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: t.cfg.DialTimeout}
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectTimeout, err)
	}

	if err := conn.SetDeadline(time.Now().Add(t.cfg.AuthTimeout)); err != nil {
		conn.Close()
		return err
	}
	reader := bufio.NewReader(conn)
	if _, err := fmt.Fprintf(conn, "AUTH %s\n", t.cfg.Password); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrConnectTimeout, err)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrConnectTimeout, err)
	}
	if line != "OK\n" && line != "OK\r\n" {
		conn.Close()
		return fmt.Errorf("%w: auth rejected", domain.ErrConnectTimeout)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.reader = reader
	t.mu.Unlock()
	return nil
}

func (t *rconTransport) SendCommand(ctx context.Context, cmd string) (string, error) {
	t.mu.Lock()
	conn, reader := t.conn, t.reader
	t.mu.Unlock()
	if conn == nil {
		return "", domain.ErrDisconnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	defer conn.SetDeadline(time.Time{})

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDisconnected, err)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDisconnected, err)
	}
	return trimNewline(line), nil
}

func (t *rconTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	return err
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
