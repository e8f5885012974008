// Package auth issues and verifies the operator tokens that guard mutating
// API routes.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// PASETO v4 local tokens use a 256-bit key.
	keyLength = 32

	// KeyFile is the name of the generated key under the data directory.
	KeyFile = "operator_token.key"
)

// KeySource tells where the operator key came from.
type KeySource string

const (
	KeyFromConfig    KeySource = "config"
	KeyFromFile      KeySource = "file"
	KeyFromGenerated KeySource = "generated"
)

// OperatorKey resolves the token key. A configured hex key wins and is
// never written to disk. Otherwise the key is read from KeyFile in
// dataPath, or generated there on first use.
//
// Two processes sharing a data directory (the server and a CLI run) may
// race to generate the file; the loser reads the winner's key.
func OperatorKey(configured, dataPath string) ([]byte, KeySource, error) {
	if configured != "" {
		key, err := decodeKey(configured)
		if err != nil {
			return nil, "", fmt.Errorf("configured token key: %w", err)
		}
		return key, KeyFromConfig, nil
	}

	keyPath := filepath.Join(dataPath, KeyFile)
	key, err := readKeyFile(keyPath)
	switch {
	case err == nil:
		return key, KeyFromFile, nil
	case !errors.Is(err, fs.ErrNotExist):
		// Unreadable or malformed keys are errors, never regenerated.
		return nil, "", err
	}

	key = make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, "", fmt.Errorf("generate token key: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0o700); err != nil {
		return nil, "", fmt.Errorf("create data directory: %w", err)
	}

	// The key is written to a temp file and linked into place, so the key
	// file is complete whenever it exists.
	f, err := os.CreateTemp(dataPath, KeyFile+".*")
	if err != nil {
		return nil, "", fmt.Errorf("create token key file: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()
	_, werr := f.WriteString(hex.EncodeToString(key) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return nil, "", fmt.Errorf("write token key file: %w", werr)
	}

	if err := os.Link(f.Name(), keyPath); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("install token key file: %w", err)
		}
		key, err = readKeyFile(keyPath)
		if err != nil {
			return nil, "", err
		}
		return key, KeyFromFile, nil
	}
	return key, KeyFromGenerated, nil
}

func readKeyFile(path string) ([]byte, error) {
	//#nosec G304 -- key path is derived from the configured data path
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := decodeKey(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("not valid hex: %w", err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("expected %d bytes, got %d", keyLength, len(key))
	}
	return key, nil
}
