// Package credential stores the tokens the orchestrator authenticates with.
//
// Token acquisition is out of scope: a token is handed in through Set (the
// CLI login command) and read back through Token.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// fileName is the credentials file inside the keyring directory.
const fileName = "credentials.json"

// ErrNoToken is the cause of the Auth error returned when no token is set.
var ErrNoToken = errors.New("no access token")

// ErrExpired is the cause of the Auth error returned for an expired JWT.
var ErrExpired = errors.New("access token expired")

// Keyring is the credential collaborator of the orchestrator and the
// cleanup service.
type Keyring interface {
	// Token returns the access token, or an Auth error when there is none
	// or it has expired.
	Token(ctx context.Context) (string, error)
	HasToken(ctx context.Context) bool
	// ClearAll removes every stored credential, device id included.
	ClearAll(ctx context.Context) error
	// ClearAccount removes the account-scoped credentials and keeps the
	// device id.
	ClearAccount(ctx context.Context) error
}

// Credentials is the persisted keyring content.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	AccountID    string `json:"account_id,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
}

// FileKeyring keeps credentials in a 0600 JSON file.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FileKeyring struct {
	mu    sync.Mutex
	path  string
	clock clock.Clock
}

// NewFileKeyring creates a keyring in dir, creating dir if needed. A nil
// clock uses the system clock.
func NewFileKeyring(dir string, c clock.Clock) (*FileKeyring, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	if c == nil {
		c = clock.System{}
	}
	return &FileKeyring{path: filepath.Join(dir, fileName), clock: c}, nil
}

// Set stores the account credentials. The device id is kept and generated
// on first use. An empty account id is taken from the token's subject
// claim when the token is a JWT.
func (k *FileKeyring) Set(ctx context.Context, accessToken, refreshToken, accountID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	creds, err := k.load()
	if err != nil {
		return err
	}
	if accountID == "" {
		if claims, ok := parseClaims(accessToken); ok {
			accountID = claims.Subject
		}
	}
	creds.AccessToken = accessToken
	creds.RefreshToken = refreshToken
	creds.AccountID = accountID
	if creds.DeviceID == "" {
		creds.DeviceID = uuid.Must(uuid.NewV7()).String()
	}
	return k.save(creds)
}

// Load returns the stored credentials.
func (k *FileKeyring) Load(ctx context.Context) (Credentials, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.load()
}

// Token implements Keyring.
func (k *FileKeyring) Token(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	creds, err := k.load()
	if err != nil {
		return "", err
	}
	if creds.AccessToken == "" {
		return "", syncerr.Auth("read token", ErrNoToken)
	}
	if claims, ok := parseClaims(creds.AccessToken); ok && claims.ExpiresAt != nil {
		if !claims.ExpiresAt.Time.After(k.clock.Now()) {
			return "", syncerr.Auth("read token", fmt.Errorf("%w at %s", ErrExpired, claims.ExpiresAt.Time.UTC().Format(time.RFC3339)))
		}
	}
	return creds.AccessToken, nil
}

// HasToken implements Keyring.
func (k *FileKeyring) HasToken(ctx context.Context) bool {
	_, err := k.Token(ctx)
	return err == nil
}

// ClearAll implements Keyring.
func (k *FileKeyring) ClearAll(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := os.Remove(k.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// ClearAccount implements Keyring. An unreadable credentials file is
// removed whole: its device id cannot be recovered and its token must not
// outlive the account.
func (k *FileKeyring) ClearAccount(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	creds, err := k.load()
	if err != nil {
		if rmErr := os.Remove(k.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return fmt.Errorf("clear account: %w", errors.Join(err, rmErr))
		}
		return nil
	}
	return k.save(Credentials{DeviceID: creds.DeviceID})
}

func (k *FileKeyring) load() (Credentials, error) {
	data, err := os.ReadFile(k.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	return creds, nil
}

// save writes through a temp file and rename so a crash never leaves a
// truncated credentials file.
func (k *FileKeyring) save(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

// parseClaims reads the registered claims of a JWT without verifying its
// signature. The remote verifies tokens; the device only needs exp and sub.
func parseClaims(token string) (*jwt.RegisteredClaims, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}
