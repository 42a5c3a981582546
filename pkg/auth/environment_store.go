package auth

import (
	"os"
	"time"
)

// TokenEnv holds an access token for any account name
const TokenEnv = "FEEDKEEPER_ACCESS_TOKEN"

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment token under the requested name
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	token := os.Getenv(TokenEnv)
	if token == "" {
		return nil, ErrCredentialsNotFound
	}
	if name == "" {
		name = DefaultAccount
	}

	return &Account{
		Name:         name,
		AccessToken:  token,
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if the environment token is set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if the environment token is set
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv(TokenEnv) != ""
}
