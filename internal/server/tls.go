package server

import (
	"crypto/tls"
	"fmt"

	"github.com/muurk/netbridge/internal/logging"
	"go.uber.org/zap"
)

// NewTLSConfig creates a TLS configuration for wss:// listeners from a
// certificate and key on disk.
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	logging.Info("TLS configuration created from files",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
	)

	return buildTLSConfig(cert), nil
}

func buildTLSConfig(cert tls.Certificate) *tls.Config {
	base := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	// ConnectionState carries no peer address, so each handshake gets a
	// config that remembers the one from its ClientHello.
	base.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		return handshakeConfig(base, remoteAddr(hello)), nil
	}
	return base
}

// handshakeConfig returns a copy of base that logs the completed handshake
// with peer.
func handshakeConfig(base *tls.Config, peer string) *tls.Config {
	cfg := base.Clone()
	cfg.GetConfigForClient = nil
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		logging.LogTLSHandshake(peer, cs.Version, cs.CipherSuite, cs.ServerName)
		return nil
	}
	return cfg
}

func remoteAddr(hello *tls.ClientHelloInfo) string {
	if hello == nil || hello.Conn == nil {
		return ""
	}
	return hello.Conn.RemoteAddr().String()
}

// GetTLSInfo returns human-readable TLS configuration information
func GetTLSInfo(config *tls.Config) map[string]interface{} {
	if config == nil {
		return map[string]interface{}{"enabled": false}
	}
	return map[string]interface{}{
		"enabled":         true,
		"min_version":     tls.VersionName(config.MinVersion),
		"num_certs":       len(config.Certificates),
		"session_tickets": !config.SessionTicketsDisabled,
	}
}
