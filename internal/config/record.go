package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atlas-desktop/trade-executor/pkg/types"
)

// RecordPath returns the path of the persisted executor record within a
// data directory.
func RecordPath(dataDir string) string {
	return filepath.Join(dataDir, "executor.json")
}

// LoadRecord reads and decrypts the persisted executor record. The
// passphrase must match the one used when the record was saved.
func LoadRecord(dataDir, passphrase string) (*types.ExecutorConfigRecord, error) {
	raw, err := os.ReadFile(RecordPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("reading executor record: %w", err)
	}

	var rec types.ExecutorConfigRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parsing executor record: %w", err)
	}

	// Fail fast if the passphrase is wrong, even though callers normally
	// reach for the plaintext later via DecryptedSecret.
	if _, err := NewSecretBox(passphrase); err != nil {
		return nil, err
	}
	if _, err := DecryptedSecret(&rec, passphrase); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveRecord encrypts apiSecret and writes the executor record to disk,
// replacing any existing file atomically via a temp-file rename.
func SaveRecord(dataDir, passphrase string, rec types.ExecutorConfigRecord, apiSecret string) error {
	box, err := NewSecretBox(passphrase)
	if err != nil {
		return err
	}
	sealed, err := box.Seal(apiSecret)
	if err != nil {
		return fmt.Errorf("encrypting api secret: %w", err)
	}
	rec.APISecretEncrypted = sealed

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling executor record: %w", err)
	}

	tmp := RecordPath(dataDir) + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("writing executor record: %w", err)
	}
	if err := os.Rename(tmp, RecordPath(dataDir)); err != nil {
		return fmt.Errorf("finalizing executor record: %w", err)
	}
	return nil
}

// DecryptedSecret returns the plaintext API secret held in a loaded record.
// Re-opens the ciphertext rather than caching the plaintext on the struct,
// so the record value itself never carries the decrypted secret at rest.
func DecryptedSecret(rec *types.ExecutorConfigRecord, passphrase string) (string, error) {
	box, err := NewSecretBox(passphrase)
	if err != nil {
		return "", err
	}
	return box.Open(rec.APISecretEncrypted)
}
