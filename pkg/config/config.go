// Package config holds the decoded configuration of a standalone mock
// server and loads static rule files.
package config

import "fmt"

// Server configures a standalone mock server process.
type Server struct {
	// Port to listen on. 0 picks an ephemeral port.
	Port int

	// Expose binds to all interfaces instead of loopback only.
	Expose bool

	// HistoryLimit bounds the request history. Non-positive selects the
	// built-in default.
	HistoryLimit int

	// MockFilesDir is a directory of YAML rule files installed at startup.
	MockFilesDir string

	// RecordDir receives recording artifacts saved at shutdown.
	RecordDir string

	// EnableH2C additionally serves cleartext HTTP/2 on the same listener.
	EnableH2C bool

	LogLevel  string
	LogFormat string
}

// Default returns the standalone defaults: loopback port 5000, text logs at
// info level.
func Default() Server {
	return Server{
		Port:      5000,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// ListenAddr renders the TCP address to bind.
func (s Server) ListenAddr() string {
	host := "127.0.0.1"
	if s.Expose {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, s.Port)
}
