package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "servibot"

// APITokenKey is the keyring entry holding the backend bearer token.
const APITokenKey = "api-token"

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/servibot/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("servibot-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// TokenStore exposes the stored API bearer token through the interface
// the transport client consumes.
type TokenStore struct{}

// Token returns the stored bearer token, or an empty string if no token
// has been stored yet.
func (TokenStore) Token() (string, error) {
	token, err := Get(APITokenKey)
	if err != nil {
		// A missing entry simply means the user has not logged in.
		return "", nil
	}
	return token, nil
}

// Clear removes the stored bearer token. Clearing an absent token is a
// no-op.
func (TokenStore) Clear() error {
	_ = Delete(APITokenKey)
	return nil
}

// Save stores a new bearer token.
func (TokenStore) Save(token string) error {
	return Set(APITokenKey, token)
}
