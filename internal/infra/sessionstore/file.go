package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"

	"gopkg.in/yaml.v3"
)

// fileSession is the on-disk YAML layout.
type fileSession struct {
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token"`
	TokenType    string    `yaml:"token_type,omitempty"`
	ExpiresAt    time.Time `yaml:"expires_at"`
	AccountID    string    `yaml:"account_id"`
	Email        string    `yaml:"email"`
}

// File keeps the session in a YAML file readable only by its owner.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile stores the session at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// DefaultFilePath is ~/.config/dsctl/session.yaml, or the platform
// equivalent.
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dsctl", "session.yaml"), nil
}

func (f *File) Path() string { return f.path }

func (f *File) Load(_ context.Context) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var fsess fileSession
	if err := yaml.Unmarshal(data, &fsess); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", f.path, err)
	}
	if fsess.AccessToken == "" {
		return nil, nil
	}
	return &domain.Session{
		AccessToken:  fsess.AccessToken,
		RefreshToken: fsess.RefreshToken,
		TokenType:    fsess.TokenType,
		ExpiresAt:    fsess.ExpiresAt,
		Account:      domain.Account{ID: fsess.AccountID, Email: fsess.Email},
	}, nil
}

func (f *File) Save(_ context.Context, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(&fileSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.ExpiresAt.UTC(),
		AccountID:    s.Account.ID,
		Email:        s.Account.Email,
	})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *File) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
