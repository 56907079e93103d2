package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrSessionInvalid is returned once the session has been invalidated,
	// either by the server rejecting the credential or by logout.
	ErrSessionInvalid = errors.New("session is no longer valid")
	// ErrNoToken means no bearer credential was configured.
	ErrNoToken = errors.New("no bearer token configured")
)

// Provider supplies the bearer credential for outgoing calls and signals
// when the session stops being valid.
type Provider interface {
	Token() (string, error)
	// Invalidated is closed when the session becomes invalid.
	Invalidated() <-chan struct{}
}

// StaticProvider serves a token obtained out of band. It never renews it;
// once invalidated it stays invalid for the life of the process.
type StaticProvider struct {
	mu      sync.Mutex
	token   string
	invalid bool
	done    chan struct{}
}

// NewStaticProvider returns a provider for token.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{
		token: strings.TrimSpace(token),
		done:  make(chan struct{}),
	}
}

func (p *StaticProvider) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.invalid {
		return "", ErrSessionInvalid
	}
	if p.token == "" {
		return "", ErrNoToken
	}
	return p.token, nil
}

func (p *StaticProvider) Invalidated() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Invalidate marks the session invalid. Calling it again is a no-op.
func (p *StaticProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.invalid {
		return
	}
	p.invalid = true
	close(p.done)
}

// Valid reports whether the session has not been invalidated.
func (p *StaticProvider) Valid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.invalid
}

// LoadToken resolves the credential in order: explicit token, token file
// from config, then the session's default token file.
func LoadToken(token, tokenFile, defaultPath string) (string, error) {
	if t := strings.TrimSpace(token); t != "" {
		return t, nil
	}
	for _, path := range []string{tokenFile, defaultPath} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		if t := strings.TrimSpace(string(data)); t != "" {
			return t, nil
		}
	}
	return "", ErrNoToken
}

// SaveToken writes token to path with owner-only permissions.
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0600)
}
