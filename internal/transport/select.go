package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const EnvCertDir = "ENGINECTL_CERT_DIR"

// Certificate files required inside the configured folder for mTLS.
const (
	CertCAFile     = "ca.crt"
	CertClientFile = "client.crt"
	CertKeyFile    = "client.key"
)

var ErrCertFileMissing = errors.New("transport: certificate file missing")

// Settings feed the pure mode decision. GOOS is injected so the decision
// stays testable off-platform; leave it empty for runtime.GOOS.
type Settings struct {
	Secure      bool
	LocalLaunch bool
	CertDir     string
	GOOS        string
}

// CertDirFromEnv returns the configured certificate folder, falling back
// to the ENGINECTL_CERT_DIR environment variable.
func CertDirFromEnv(configured string) string {
	dir := strings.TrimSpace(configured)
	if dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(EnvCertDir))
}

// SelectMode picks the transport scheme from settings alone:
// secure local sessions with no certificate folder use the no-auth
// channel native to the platform; any secure session that is remote or
// has certificates configured must use mutual TLS; everything else is
// insecure.
func SelectMode(s Settings) (Mode, error) {
	goos := s.GOOS
	if goos == "" {
		goos = runtimeGOOS
	}
	if !s.Secure {
		return ModeInsecure, nil
	}
	if s.LocalLaunch && s.CertDir == "" {
		if goos == "windows" {
			return ModeWindowsNoUA, nil
		}
		return ModeUnixSocket, nil
	}
	if err := VerifyCertDir(s.CertDir); err != nil {
		return ModeMutualTLS, err
	}
	return ModeMutualTLS, nil
}

// VerifyCertDir checks that all three mTLS material files are present.
func VerifyCertDir(dir string) error {
	for _, name := range []string{CertCAFile, CertClientFile, CertKeyFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s", ErrCertFileMissing, path)
		}
	}
	return nil
}
