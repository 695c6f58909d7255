/*
Copyright 2026 The Asyncer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
)

// sslBridge performs the in-band TLS upgrade. The client sends an
// abbreviated handshake response (the SSL request) in clear, then the
// TLS handshake runs on the raw connection, and the rest of the MySQL
// handshake continues inside the tunnel.
type sslBridge struct {
	mode SslMode
	conf *tls.Config
	host string
}

func newSslBridge(cfg *Config) *sslBridge {
	return &sslBridge{
		mode: cfg.SslMode,
		conf: cfg.TLS,
		host: cfg.Host,
	}
}

// accept decides whether to upgrade given the server's capability
// flags. When TLS is unsupported by the server: REQUIRED and stronger
// fail, PREFERRED continues in clear (the unsupported event fires on
// the client).
func (b *sslBridge) accept(serverCaps uint32) (bool, error) {
	if !b.mode.startSsl() {
		return false, nil
	}
	if serverCaps&CapabilityClientSSL == 0 {
		if b.mode == SslPreferred {
			return false, nil
		}
		return false, newClientError(KindTLSNegotiation,
			"ssl-mode %v but the server does not support TLS", b.mode)
	}
	return true, nil
}

// upgrade wraps conn with a TLS client session and completes the TLS
// handshake. On fatal alerts the connection is unusable and the error
// surfaces as a TLS negotiation failure.
func (b *sslBridge) upgrade(ctx context.Context, conn net.Conn) (net.Conn, error) {
	tlsConn := tls.Client(conn, b.clientConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, wrapClientError(KindTLSNegotiation, err, "TLS handshake failed")
	}
	return tlsConn, nil
}

func (b *sslBridge) clientConfig() *tls.Config {
	var conf *tls.Config
	if b.conf != nil {
		conf = b.conf.Clone()
	} else {
		conf = &tls.Config{}
	}
	if conf.ServerName == "" {
		conf.ServerName = b.host
	}

	switch b.mode {
	case SslPreferred, SslRequired:
		// Encryption without authentication.
		conf.InsecureSkipVerify = true
		conf.VerifyPeerCertificate = nil
	case SslVerifyCA:
		// Chain verification without hostname verification.
		roots := conf.RootCAs
		conf.InsecureSkipVerify = true
		conf.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return newClientError(KindTLSNegotiation, "server presented no certificate")
			}
			certs := make([]*x509.Certificate, 0, len(rawCerts))
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return err
				}
				certs = append(certs, cert)
			}
			opts := x509.VerifyOptions{Roots: roots}
			for _, cert := range certs[1:] {
				if opts.Intermediates == nil {
					opts.Intermediates = x509.NewCertPool()
				}
				opts.Intermediates.AddCert(cert)
			}
			_, err := certs[0].Verify(opts)
			return err
		}
	case SslVerifyIdentity:
		// Full verification; the stdlib does chain plus hostname.
	}
	return conf
}
