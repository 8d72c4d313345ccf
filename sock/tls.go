// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sock

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSOptions describes the client side of an upstream TLS session.
type TLSOptions struct {
	// ServerName overrides the name used for SNI and verification.
	ServerName string

	// MinVersion is "1.2" or "1.3". Default: "1.2".
	MinVersion string

	// CAFile is a PEM bundle trusted instead of the system roots.
	CAFile string

	// RootCAs is trusted instead of the system roots. Takes precedence
	// over CAFile.
	RootCAs *x509.CertPool

	// InsecureSkipVerify disables certificate verification. Tests only.
	InsecureSkipVerify bool
}

// TLSConfig converts o to a crypto/tls client configuration.
func TLSConfig(o TLSOptions) (*tls.Config, error) {
	version, err := parseTLSVersion(o.MinVersion)
	if err != nil {
		return nil, err
	}
	// #nosec G402 - InsecureSkipVerify is opt-in for test upstreams
	conf := &tls.Config{
		ServerName:         o.ServerName,
		MinVersion:         version,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
	switch {
	case o.RootCAs != nil:
		conf.RootCAs = o.RootCAs
	case o.CAFile != "":
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("sock: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("sock: no certificates in %s", o.CAFile)
		}
		conf.RootCAs = pool
	}
	return conf, nil
}

func parseTLSVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("sock: unsupported tls min_version %q (want 1.2 or 1.3)", v)
}
