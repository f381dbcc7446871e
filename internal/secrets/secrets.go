package secrets

import (
	"errors"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService groups the app's credentials in the OS keychain.
	KeyringService = "outreach-engine"

	DatabaseURL  = "DATABASE_URL"
	ApifyToken   = "APIFY_API_TOKEN"
	OpenAIAPIKey = "OPENAI_API_KEY"
)

// Names lists every credential the engine knows about.
var Names = []string{DatabaseURL, ApifyToken, OpenAIAPIKey}

var ErrUnknownName = errors.New("unknown credential name")

func Known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// Store resolves credentials from the environment first, then the keyring.
type Store struct {
	getenv func(string) string
}

func New() *Store {
	return &Store{getenv: os.Getenv}
}

// WithEnv is for tests that must not see the real environment.
func WithEnv(env map[string]string) *Store {
	return &Store{getenv: func(k string) string { return env[k] }}
}

func (s *Store) Get(name string) string {
	if v := strings.TrimSpace(s.getenv(name)); v != "" {
		return v
	}
	v, err := keyring.Get(KeyringService, name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

func (s *Store) Has(name string) bool { return s.Get(name) != "" }

// Lookup returns a getter for name, for clients that read their credential per request.
func (s *Store) Lookup(name string) func() string {
	return func() string { return s.Get(name) }
}

// Set stores a credential in the keyring. An environment value still wins.
func (s *Store) Set(name, value string) error {
	if !Known(name) {
		return ErrUnknownName
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("value is empty")
	}
	return keyring.Set(KeyringService, name, value)
}

func (s *Store) Delete(name string) error {
	if !Known(name) {
		return ErrUnknownName
	}
	err := keyring.Delete(KeyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Status reports which credentials are present, keyed the way the setup screen expects.
func (s *Store) Status() map[string]bool {
	return map[string]bool{
		"database": s.Has(DatabaseURL),
		"apify":    s.Has(ApifyToken),
		"openai":   s.Has(OpenAIAPIKey),
	}
}
