package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Credentials materializes the gRPC transport credentials for a mode.
// Only mutual TLS carries real channel security; the no-auth modes rely
// on the engine's own listener scoping.
func Credentials(mode Mode, certDir string, serverName string) (credentials.TransportCredentials, error) {
	if mode != ModeMutualTLS {
		return insecure.NewCredentials(), nil
	}
	if err := VerifyCertDir(certDir); err != nil {
		return nil, err
	}
	pair, err := tls.LoadX509KeyPair(
		filepath.Join(certDir, CertClientFile),
		filepath.Join(certDir, CertKeyFile),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: load client keypair: %w", err)
	}
	caPEM, err := os.ReadFile(filepath.Join(certDir, CertCAFile))
	if err != nil {
		return nil, fmt.Errorf("transport: read ca certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("transport: ca certificate not parseable: %s", filepath.Join(certDir, CertCAFile))
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
