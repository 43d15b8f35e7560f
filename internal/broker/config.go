// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package broker wraps the AMQP 0-9-1 client used by every pipeline stage.
//
// Stages publish to and consume from topic exchanges with routing keys of the
// form <type>.<stage>.<provider>.<channel>; the anonymizer additionally
// publishes to a headers exchange routed on the per-client id header.
// Watermill provides the pub/sub plumbing, watermill-amqp the AMQP binding.
package broker

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// Config holds AMQP connection parameters.
type Config struct {
	Host              string        `koanf:"host" validate:"required"`
	Port              int           `koanf:"port" validate:"required,min=1,max=65535"`
	Vhost             string        `koanf:"vhost"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	PrefetchCount     int           `koanf:"prefetch_count"`

	// Username/Password are used only when SSL client-cert auth is off.
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	SSL         bool   `koanf:"ssl"`
	SSLCACerts  string `koanf:"ssl_ca_certs"`
	SSLCertFile string `koanf:"ssl_certfile"`
	SSLKeyFile  string `koanf:"ssl_keyfile"`
}

// DefaultConfig returns connection defaults for a local broker.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		Port:              5672,
		Vhost:             "/",
		HeartbeatInterval: 30 * time.Second,
		PrefetchCount:     20,
		Username:          "guest",
		Password:          "guest",
	}
}

// URI builds the amqp(s) connection URI.
func (c Config) URI() string {
	scheme := "amqp"
	if c.SSL {
		scheme = "amqps"
	}
	auth := ""
	if c.Username != "" {
		auth = c.Username + ":" + c.Password + "@"
	}
	return fmt.Sprintf("%s://%s%s:%d%s", scheme, auth, c.Host, c.Port, vhostPath(c.Vhost))
}

func vhostPath(vhost string) string {
	if vhost == "" || vhost == "/" {
		return "/"
	}
	return "/" + vhost
}

// TLSConfig loads the CA bundle and client certificate pair when SSL is on.
func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.SSL {
		return nil, nil
	}
	out := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.SSLCACerts != "" {
		pem, err := os.ReadFile(c.SSLCACerts)
		if err != nil {
			return nil, fmt.Errorf("read CA certs: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable CA certs in %s", c.SSLCACerts)
		}
		out.RootCAs = pool
	}
	if c.SSLCertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.SSLCertFile, c.SSLKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}
