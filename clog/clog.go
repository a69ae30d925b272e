// Package clog provides the small leveled-logging façade shared by every
// long-lived component in this module (protocol, real-time stream,
// correction engine, session). It is deliberately minimal: a
// provider interface so a host application can redirect output, and an
// atomic on/off gate so logging can be toggled without a mutex.
package clog

import (
	"log"
	"os"
	"sync/atomic"
)

// LogProvider is implemented by anything that wants to receive log lines
// from this module. Only four levels are recognized; there is no Info level
// because the volume of routine protocol chatter (every command, every
// telemetry tick) would drown a genuine Info channel.
type LogProvider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Clog is an embeddable leveled logger. A Clog made by New logs to stdout
// but stays silent until LogMode(true) is called. The zero value has no
// provider: give it one with SetLogProvider before enabling it.
type Clog struct {
	provider LogProvider
	has      uint32 // 1: enabled, 0: disabled
}

// New creates a logger with the given line prefix, using the default
// stdlib-backed provider.
func New(prefix string) Clog {
	return Clog{
		provider: defaultLogger{log.New(os.Stdout, prefix, log.LstdFlags)},
	}
}

// LogMode enables or disables log output.
func (c *Clog) LogMode(enable bool) {
	if enable {
		atomic.StoreUint32(&c.has, 1)
	} else {
		atomic.StoreUint32(&c.has, 0)
	}
}

// SetLogProvider overrides the backing provider. A nil provider is ignored.
func (c *Clog) SetLogProvider(p LogProvider) {
	if p != nil {
		c.provider = p
	}
}

func (c Clog) enabled() bool { return atomic.LoadUint32(&c.has) == 1 }

// Critical logs a CRITICAL level message.
func (c Clog) Critical(format string, v ...interface{}) {
	if c.enabled() {
		c.provider.Critical(format, v...)
	}
}

// Error logs an ERROR level message.
func (c Clog) Error(format string, v ...interface{}) {
	if c.enabled() {
		c.provider.Error(format, v...)
	}
}

// Warn logs a WARN level message.
func (c Clog) Warn(format string, v ...interface{}) {
	if c.enabled() {
		c.provider.Warn(format, v...)
	}
}

// Debug logs a DEBUG level message.
func (c Clog) Debug(format string, v ...interface{}) {
	if c.enabled() {
		c.provider.Debug(format, v...)
	}
}

type defaultLogger struct {
	*log.Logger
}

var _ LogProvider = defaultLogger{}

func (d defaultLogger) Critical(format string, v ...interface{}) { d.Printf("[C]: "+format, v...) }
func (d defaultLogger) Error(format string, v ...interface{})    { d.Printf("[E]: "+format, v...) }
func (d defaultLogger) Warn(format string, v ...interface{})     { d.Printf("[W]: "+format, v...) }
func (d defaultLogger) Debug(format string, v ...interface{})    { d.Printf("[D]: "+format, v...) }
