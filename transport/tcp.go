package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TCPConfig configures a TCP Channel, used when the "ECU" on the other end
// is actually a network-attached logger or simulator speaking the same
// wire protocol over a socket instead of a serial cable.
type TCPConfig struct {
	Addr        string        `yaml:"addr"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
}

// LoadTCPConfig reads a yaml-encoded connection profile from path, the TCP
// counterpart of LoadSerialConfig.
func LoadTCPConfig(path string) (TCPConfig, error) {
	var cfg TCPConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("transport: load tcp config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("transport: load tcp config: %w", err)
	}
	if err := cfg.Valid(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *TCPConfig) Valid() error {
	if c.Addr == "" {
		return fmt.Errorf("transport: tcp address required")
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	return nil
}

// TCPChannel is a Channel backed by a plain TCP socket.
type TCPChannel struct {
	cfg  TCPConfig
	conn net.Conn
}

func OpenTCP(ctx context.Context, cfg TCPConfig) (*TCPChannel, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", cfg.Addr, err)
	}
	return &TCPChannel{cfg: cfg, conn: conn}, nil
}

func (t *TCPChannel) WriteAll(ctx context.Context, p []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(dl)
	} else {
		t.conn.SetWriteDeadline(time.Time{})
	}
	_, err := t.conn.Write(p)
	if err != nil {
		return fmt.Errorf("transport: tcp write: %w", err)
	}
	return nil
}

func (t *TCPChannel) ReadExact(ctx context.Context, p []byte) error {
	t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	return readExactFrom(ctx, t.conn, p)
}

func (t *TCPChannel) Available() (int, error) {
	// A TCP stream has no OS-level "bytes buffered" query exposed by the
	// stdlib; like SerialChannel, resync relies on Discard/ReadExact rather
	// than an exact count.
	return 0, nil
}

func (t *TCPChannel) Discard(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	buf := make([]byte, n)
	total := 0
	for total < n {
		k, err := t.conn.Read(buf[total:])
		total += k
		if err != nil || k == 0 {
			break
		}
	}
	return total, nil
}

func (t *TCPChannel) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

var _ Channel = (*TCPChannel)(nil)
var _ Channel = (*SerialChannel)(nil)
