// Package quicbus is the production transport.Bus implementation, adapted
// from the teacher's internal/core/protocol/quic package: the same
// Config/TLS shape and quic-go wiring, repurposed from a raw
// connection/stream transport into a subject-addressed publish/subscribe
// broker. A single coordinator process runs Broker; every system process
// dials in with Client, which satisfies transport.Bus the same way inproc
// does.
package quicbus

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// Config mirrors the teacher's quic.Config: connection and stream limits,
// idle/keepalive timing, and TLS. Trimmed to the fields the broker and
// client actually use.
type Config struct {
	MaxIncomingStreams     int64
	MaxStreamReceiveWindow uint64
	MaxIdleTimeout         time.Duration
	KeepAlivePeriod        time.Duration
	HandshakeIdleTimeout   time.Duration
	TLSConfig              *tls.Config
}

// DefaultConfig mirrors DefaultQUICConfig, scaled down for a broker that
// multiplexes every subject over per-connection control streams rather
// than one stream per logical channel.
func DefaultConfig() *Config {
	return &Config{
		MaxIncomingStreams:     256,
		MaxStreamReceiveWindow: 2 * 1024 * 1024,
		MaxIdleTimeout:         30 * time.Second,
		KeepAlivePeriod:        15 * time.Second,
		HandshakeIdleTimeout:   10 * time.Second,
		TLSConfig:              generateTLSConfig(),
	}
}

func (c *Config) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIncomingStreams:     c.MaxIncomingStreams,
		MaxStreamReceiveWindow: c.MaxStreamReceiveWindow,
		MaxIdleTimeout:         c.MaxIdleTimeout,
		KeepAlivePeriod:        c.KeepAlivePeriod,
		HandshakeIdleTimeout:   c.HandshakeIdleTimeout,
	}
}

func generateTLSConfig() *tls.Config {
	cert, err := selfSignedCert()
	if err != nil {
		panic(err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"ecsengine-quicbus"},
		MinVersion:   tls.VersionTLS13,
	}
}

func selfSignedCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"ecsengine"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// insecureClientTLS trusts any broker certificate. Development-only, same
// posture as the teacher's generateTLSConfig for its client dialer.
func insecureClientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"ecsengine-quicbus"},
		MinVersion:         tls.VersionTLS13,
	}
}
