package serve

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/config"
	"github.com/soheilhy/cmux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunningServers is one listening port with its plaintext and TLS servers.
type RunningServers struct {
	Addr net.Addr
	Port int

	lis       net.Listener
	servers   []*http.Server
	closeOnce sync.Once
	closeErr  error
}

// Close drains every server on the port, then releases the listener. Calls
// after the first return the first result.
func (r *RunningServers) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		var errs []error
		for _, srv := range r.servers {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		}
		_ = r.lis.Close()
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

// StartSinglePortHTTP serves plaintext (HTTP/1.1 + h2c) and TLS on one
// listener, split by cmux on the first bytes of each connection.
func StartSinglePortHTTP(_ context.Context, cfg config.ListenerConfig, handler http.Handler) (*RunningServers, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		return nil, fmt.Errorf("listener on port %d needs plaintext and/or tls enabled", cfg.Port)
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	var cert tls.Certificate
	if cfg.EnableTLS {
		var err error
		if cert, err = loadServerCertificate(cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
			return nil, err
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}
	running := &RunningServers{Addr: lis.Addr(), lis: lis}
	if tcpAddr, ok := lis.Addr().(*net.TCPAddr); ok {
		running.Port = tcpAddr.Port
	}

	// TLS must be matched before the catch-all plaintext matcher.
	muxer := cmux.New(lis)
	if cfg.EnableTLS {
		tlsLis := tls.NewListener(muxer.Match(cmux.TLS()), &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
		running.serve("tls", &http.Server{Handler: handler, ReadHeaderTimeout: cfg.ReadHeaderTimeout}, tlsLis)
	}
	if cfg.EnablePlainText {
		plain := &http.Server{
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}
		running.serve("plaintext", plain, muxer.Match(cmux.Any()))
	}

	go func() {
		if err := muxer.Serve(); err != nil && !errors.Is(err, net.ErrClosed) && !strings.Contains(err.Error(), "use of closed network connection") {
			log.Error("Connection mux failed", "addr", running.Addr, "err", err)
		}
	}()
	return running, nil
}

func (r *RunningServers) serve(kind string, srv *http.Server, lis net.Listener) {
	r.servers = append(r.servers, srv)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "kind", kind, "addr", r.Addr, "err", err)
		}
	}()
}

// loadServerCertificate reads the configured key pair, or generates a
// self-signed localhost certificate when none is configured.
func loadServerCertificate(certFile, keyFile string) (tls.Certificate, error) {
	if strings.TrimSpace(certFile) == "" || strings.TrimSpace(keyFile) == "" {
		return selfSignedCertificate()
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load tls certificate: %w", err)
	}
	return cert, nil
}

func selfSignedCertificate() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate tls key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate tls serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost", Organization: []string{"ThreadFlow"}},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate tls certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: template}, nil
}
