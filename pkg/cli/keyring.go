package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"github.com/cpwebapi/cpwebapi-go/pkg/protocol"
)

const (
	keyringServiceName   = "com.cpwebapi.oauth"
	keyringSecretService = "accessTokenSecret"
	keyringDirectory     = "~/.cpwebapi_keys"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

func (c *Config) getPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}

	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	password := string(b)
	c.password = &password
	return password, nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	backend := c.Backend
	if backend.FileDir == "" {
		backend.FileDir = keyringDirectory
	}
	if c.Debug {
		keyring.Debug = true
	}
	return keyring.Open(backend)
}

func (c *Config) fullSecretName() string {
	return keyringSecretService + "." + c.SecretName
}

// LoadAccessTokenSecretFromKeyring loads the access token secret named c.SecretName from the
// system keyring.
func (c *Config) LoadAccessTokenSecretFromKeyring() (string, error) {
	if c.SecretName == "" {
		return "", ErrNoSecretSpecified
	}
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}

	item, err := kr.Get(c.fullSecretName())
	if err != nil {
		return "", fmt.Errorf("could not load access token secret: %w", err)
	}
	return string(item.Data), nil
}

// SaveAccessTokenSecretToKeyring writes secret to the system keyring under c.SecretName.
//
// If an encryption key is configured, the secret is decrypted first so that a secret that does not
// belong to the key is never stored.
func (c *Config) SaveAccessTokenSecretToKeyring(secret string) error {
	if c.SecretName == "" {
		return ErrNoSecretSpecified
	}
	if c.Flags.isSet(FlagKeys) {
		if err := c.loadKeys(); err != nil {
			return err
		}
	}
	if c.encryptionKey != nil {
		if _, err := protocol.DecryptAccessTokenSecret(secret, c.encryptionKey); err != nil {
			return fmt.Errorf("access token secret does not match encryption key: %w", err)
		}
	}

	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:  c.fullSecretName(),
		Data: []byte(secret),
	}); err != nil {
		return fmt.Errorf("failed to enroll access token secret in keyring: %s", err)
	}
	return nil
}

// DeleteAccessTokenSecret removes the access token secret from the system keyring.
func (c *Config) DeleteAccessTokenSecret() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(c.fullSecretName())
}
