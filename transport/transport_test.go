package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeChannelWriteAndReadExact(t *testing.T) {
	ch := NewFakeChannel([]byte{1, 2, 3, 4})
	ctx := context.Background()

	require.NoError(t, ch.WriteAll(ctx, []byte("hello")))
	assert.Equal(t, "hello", ch.Written.String())

	buf := make([]byte, 2)
	require.NoError(t, ch.ReadExact(ctx, buf))
	assert.Equal(t, []byte{1, 2}, buf)

	buf2 := make([]byte, 2)
	require.NoError(t, ch.ReadExact(ctx, buf2))
	assert.Equal(t, []byte{3, 4}, buf2)
}

func TestFakeChannelReadExactTimeoutOnShortBuffer(t *testing.T) {
	ch := NewFakeChannel([]byte{1})
	buf := make([]byte, 2)
	err := ch.ReadExact(context.Background(), buf)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFakeChannelDiscard(t *testing.T) {
	ch := NewFakeChannel([]byte{1, 2, 3, 4, 5})
	n, err := ch.Discard(3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	avail, _ := ch.Available()
	assert.Equal(t, 2, avail)
}

func TestFakeChannelClosedRejectsOps(t *testing.T) {
	ch := NewFakeChannel(nil)
	require.NoError(t, ch.Close())
	err := ch.WriteAll(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSerialConfigDefaults(t *testing.T) {
	cfg := SerialConfig{Port: "/dev/ttyUSB0"}
	require.NoError(t, cfg.Valid())
	assert.Equal(t, 115200, cfg.Baud)
	assert.NotZero(t, cfg.ReadTimeout)
}

func TestSerialConfigRequiresPort(t *testing.T) {
	cfg := SerialConfig{}
	assert.Error(t, cfg.Valid())
}

func TestTCPConfigDefaults(t *testing.T) {
	cfg := TCPConfig{Addr: "127.0.0.1:1234"}
	require.NoError(t, cfg.Valid())
	assert.NotZero(t, cfg.DialTimeout)
	assert.NotZero(t, cfg.ReadTimeout)
}

func TestLoadSerialConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: /dev/ttyUSB0\nbaud: 57600\n"), 0o644))

	cfg, err := LoadSerialConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Port)
	assert.Equal(t, 57600, cfg.Baud)
	assert.NotZero(t, cfg.ReadTimeout)
}

func TestLoadTCPConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: 127.0.0.1:7777\n"), 0o644))

	cfg, err := LoadTCPConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Addr)
	assert.NotZero(t, cfg.DialTimeout)
}
