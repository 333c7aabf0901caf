// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"

	"lipsync/internal/events"
	applog "lipsync/internal/log"
)

// LoggingTransport implements the Transport interface by logging data at
// debug level. Viseme frames are skipped unless Verbose is set; at 60 Hz
// they drown everything else.
type LoggingTransport struct {
	Verbose bool
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport(verbose bool) *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{Verbose: verbose}
}

// Send logs the received data as JSON.
func (lt *LoggingTransport) Send(data any) error {
	if env, ok := data.(events.Envelope); ok && env.Event == events.NameViseme && !lt.Verbose {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		applog.Debugf("Transport: %T %+v (marshal error: %v)", data, data, err)
		return nil
	}
	applog.Debugf("Transport: %s", b)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	applog.Debugf("Transport: LoggingTransport closed")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
