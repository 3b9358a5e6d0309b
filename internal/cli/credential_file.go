package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goliatone/go-salla/core"
)

func readCredential(path string) (core.Credential, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return core.Credential{}, fmt.Errorf("cli: --credential is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Credential{}, fmt.Errorf("cli: read credential: %w", err)
	}
	var cred core.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return core.Credential{}, fmt.Errorf("cli: decode credential %s: %w", path, err)
	}
	return cred, nil
}

// writeCredential replaces path atomically so a crash never leaves half a
// credential behind.
func writeCredential(path string, cred core.Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("cli: encode credential: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".salla-credential-*")
	if err != nil {
		return fmt.Errorf("cli: write credential: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cli: write credential: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cli: write credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cli: write credential: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("cli: write credential: %w", err)
	}
	return nil
}
