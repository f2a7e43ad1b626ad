// Package tooling checks the local build tooling directory and fingerprints
// it, so a changed image definition or scaffold revision forces a full setup.
package tooling

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
	"git.home.luguber.info/inful/simbuild/internal/manifest"
)

// RequiredFiles must exist in the tooling directory.
var RequiredFiles = []string{"Dockerfile", "docker-compose.yml"}

// CheckResources verifies the tooling directory holds the compose setup.
func CheckResources(dir string) error {
	for _, name := range RequiredFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			return foundation.EnvironmentError("Docker build resources not found").
				WithCause(err).
				WithContext("path", p).
				Build()
		}
	}
	return nil
}

// HeadResolver returns the commit the default branch of a remote points at.
type HeadResolver interface {
	Head(ctx context.Context, url string) (string, error)
}

// Fingerprinter computes the tooling fingerprint. Remote heads are cached for
// ttl; when the remote is unreachable the last known head is reused.
type Fingerprinter struct {
	dir      string
	repoURL  string
	resolver HeadResolver
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	head     string
	resolved time.Time
}

// NewFingerprinter fingerprints dir. With a nil resolver only the local files
// are hashed.
func NewFingerprinter(dir, repoURL string, resolver HeadResolver, logger *slog.Logger) *Fingerprinter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fingerprinter{
		dir:      dir,
		repoURL:  repoURL,
		resolver: resolver,
		ttl:      10 * time.Minute,
		logger:   logger,
		now:      time.Now,
	}
}

// Fingerprint returns a short stable identifier of the tooling state.
func (f *Fingerprinter) Fingerprint(ctx context.Context) (string, error) {
	m, err := manifest.Build(f.dir)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	_, _ = h.Write([]byte(m.Digest()))
	if head := f.remoteHead(ctx); head != "" {
		_, _ = h.Write([]byte("\n" + head))
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

func (f *Fingerprinter) remoteHead(ctx context.Context) string {
	if f.resolver == nil || f.repoURL == "" {
		return ""
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.head != "" && f.now().Sub(f.resolved) < f.ttl {
		return f.head
	}
	head, err := f.resolver.Head(ctx, f.repoURL)
	if err != nil {
		f.logger.Warn("Could not resolve scaffold repository head, using last known value",
			logfields.Repository(f.repoURL), logfields.Error(err))
		return f.head
	}
	f.head, f.resolved = head, f.now()
	return head
}
