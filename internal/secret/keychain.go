package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "composer"

// KeychainStore reads secrets from the macOS Keychain through the
// `security` CLI tool. Entries live under the "composer" service with the
// secret key as account name.
type KeychainStore struct {
	command func(name string, args ...string) *exec.Cmd
}

// NewKeychainStore creates a new KeychainStore.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{command: exec.Command}
}

// Available reports whether the `security` tool can be found.
func (k *KeychainStore) Available() bool {
	_, err := exec.LookPath("security")
	return err == nil
}

func (k *KeychainStore) Get(key string) ([]byte, error) {
	out, err := k.command("security", "find-generic-password",
		"-a", key,
		"-s", keychainService,
		"-w", // output only the password
	).Output()
	if err != nil {
		// exit code 44: item not found
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keychain get %q: %w", key, err)
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

// Set stores a secret, replacing any existing entry.
func (k *KeychainStore) Set(key string, value []byte) error {
	cmd := k.command("security", "add-generic-password",
		"-a", key,
		"-s", keychainService,
		"-w", string(value),
		"-U",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("keychain set: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}
