/*
Package cli facilitates building command-line applications for the Client Portal Web API. It
defines a [Config] type that can be used to register common command-line flags (using the Golang
flag package), environment variable equivalents and a configuration file.

The package uses [keyring]'s platform-agnostic interface for storing the access token secret in an
OS-dependent credential store.

# Examples

	import flag

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for keys, OAuth, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	if err := config.LoadConfigFile(); err != nil { // Fills in remaining fields from -config
		panic(err)
	}
	config.LoadCredentials()          // Prompt for Keyring password if needed

	// Returns a session holding a live session token, either loaded from the session cache or
	// obtained from a new handshake.
	s, err := config.Connect(ctx)
	if err != nil {
		panic(err)
	}
	defer config.UpdateCachedSessions(s)

Values are never overwritten once set, so command-line flags take precedence over environment
variables, which take precedence over the configuration file.

A [Flag] mask controls what [Config] fields are populated. Note that config.Flags must be set
before calling [flag.Parse] or [Config.ReadFromEnvironment]:

	config, err = NewConfig(FlagOAuth | FlagKeys) // No session cache.
*/
package cli

import (
	"context"
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/99designs/keyring"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cpwebapi/cpwebapi-go/internal/log"
	"github.com/cpwebapi/cpwebapi-go/pkg/cache"
	"github.com/cpwebapi/cpwebapi-go/pkg/protocol"
	"github.com/cpwebapi/cpwebapi-go/pkg/session"
)

// Environment variable names used are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvConfigFile        = "CPAPI_CONFIG_FILE"
	EnvRealm             = "CPAPI_REALM"
	EnvConsumerKey       = "CPAPI_CONSUMER_KEY"
	EnvAccessToken       = "CPAPI_ACCESS_TOKEN"
	EnvAccessTokenSecret = "CPAPI_ACCESS_TOKEN_SECRET"
	EnvSignatureKeyFile  = "CPAPI_SIGNATURE_KEY_FILE"
	EnvEncryptionKeyFile = "CPAPI_ENCRYPTION_KEY_FILE"
	EnvDHParamFile       = "CPAPI_DH_PARAM_FILE"
	EnvBaseURL           = "CPAPI_BASE_URL"
	EnvCacheFile         = "CPAPI_CACHE_FILE"
	EnvSecretName        = "CPAPI_SECRET_NAME"
	EnvKeyringType       = "CPAPI_KEYRING_TYPE"
	EnvKeyringPass       = "CPAPI_KEYRING_PASSWORD"
	EnvKeyringPath       = "CPAPI_KEYRING_PATH"
	EnvKeyringDebug      = "CPAPI_KEYRING_DEBUG"
	EnvTestMode          = "CPAPI_TEST_MODE"
)

// DotEnvFilename is loaded by [Config.ReadFromEnvironment] if it exists. Variables already present
// in the environment are not overwritten.
var DotEnvFilename = ".env"

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagOAuth Flag = 1 // Enable consumer key, access token and keyring options.
	FlagKeys  Flag = 2 // Enable RSA key and DH parameter options.
	FlagCache Flag = 4 // Enable session cache option.
	FlagAll   Flag = FlagOAuth | FlagKeys | FlagCache
)

var (
	ErrNoSecretSpecified = errors.New("access token secret not provided")
	ErrKeyNotFound       = keyring.ErrKeyNotFound
)

// Config fields determine how a client authenticates to the Client Portal Web API.
type Config struct {
	Flags          Flag   // Controls which set of environment variables/CLI flags to use.
	ConfigFilename string // JSON or YAML file with OAuth settings.

	Realm                 string
	ConsumerKey           string
	AccessToken           string
	AccessTokenSecret     string // Base64, as issued. Prefer SecretName.
	SecretName            string // Username for access token secret in system keyring
	SignatureKeyFilename  string
	EncryptionKeyFilename string
	DHParamFilename       string
	BaseURL               string
	CacheFilename         string
	TestMode              bool

	Backend     keyring.Config
	BackendType backendType
	Debug       bool // Enable keyring debug messages

	password      *string
	sessions      *cache.SessionCache
	signatureKey  *rsa.PrivateKey
	encryptionKey *rsa.PrivateKey
	dhParams      *protocol.DHParameters
}

// fileConfig is the layout of the file named by Config.ConfigFilename. JSON is valid YAML, so
// either format may be used.
type fileConfig struct {
	Realm             string `yaml:"realm"`
	ConsumerKey       string `yaml:"consumer_key"`
	AccessToken       string `yaml:"access_token"`
	AccessTokenSecret string `yaml:"access_token_secret"`
	SignatureKeyFile  string `yaml:"signature_key_fp"`
	EncryptionKeyFile string `yaml:"encryption_key_fp"`
	DHParamFile       string `yaml:"dh_param_fp"`
	BaseURL           string `yaml:"base_url"`
	IsTest            bool   `yaml:"is_test"`
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

// RegisterCommandLineFlags adds c's options to the default flag set.
func (c *Config) RegisterCommandLineFlags() {
	c.RegisterFlags(flag.CommandLine)
}

// RegisterFlags adds c's options to fs.
func (c *Config) RegisterFlags(set *flag.FlagSet) {
	if c.Flags.isSet(FlagOAuth) {
		set.StringVar(&c.ConfigFilename, "config", "", "Load OAuth settings from JSON or YAML `file`. Defaults to $CPAPI_CONFIG_FILE.")
		set.StringVar(&c.Realm, "realm", "", "OAuth `realm`. Defaults to $CPAPI_REALM, then "+session.DefaultRealm+".")
		set.StringVar(&c.ConsumerKey, "consumer-key", "", "OAuth consumer `key`. Defaults to $CPAPI_CONSUMER_KEY.")
		set.StringVar(&c.AccessToken, "access-token", "", "OAuth access `token`. Defaults to $CPAPI_ACCESS_TOKEN.")
		set.StringVar(&c.SecretName, "secret-name", "", "System keyring `name` for access token secret. Defaults to $CPAPI_SECRET_NAME.")
		set.StringVar(&c.BaseURL, "base-url", "", "API base `URL`. Defaults to $CPAPI_BASE_URL, then "+session.DefaultBaseURL+".")
		set.BoolVar(&c.TestMode, "test-mode", false, "Use fixed nonces, timestamps and DH values. Never use against production.")

		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		set.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $CPAPI_KEYRING_TYPE.")
		set.StringVar(&c.Backend.FileDir, "keyring-file-dir", "", "keyring `directory` for file-backed keyring types. Defaults to $CPAPI_KEYRING_PATH, then "+keyringDirectory+".")
		set.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
	if c.Flags.isSet(FlagKeys) {
		set.StringVar(&c.SignatureKeyFilename, "signature-key-file", "", "A `file` containing the RSA signature key. Defaults to $CPAPI_SIGNATURE_KEY_FILE.")
		set.StringVar(&c.EncryptionKeyFilename, "encryption-key-file", "", "A `file` containing the RSA encryption key. Defaults to $CPAPI_ENCRYPTION_KEY_FILE, then the signature key.")
		set.StringVar(&c.DHParamFilename, "dh-param-file", "", "A `file` containing PEM-encoded DH parameters. Defaults to $CPAPI_DH_PARAM_FILE.")
	}
	if c.Flags.isSet(FlagCache) {
		set.StringVar(&c.CacheFilename, "session-cache", "", "Load live session token cache from `file`. Defaults to $CPAPI_CACHE_FILE.")
	}
	c.registerFlagsOsSpecific(set)
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if err := godotenv.Load(DotEnvFilename); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warning("Ignoring %s: %s", DotEnvFilename, err)
		}
	} else {
		log.Debug("Loaded environment from %s", DotEnvFilename)
	}

	setFromEnv := func(field *string, name, description string) {
		if *field == "" {
			*field = os.Getenv(name)
			if *field != "" {
				log.Debug("Set %s to '%s'", description, *field)
			}
		}
	}

	if c.Flags.isSet(FlagOAuth) {
		setFromEnv(&c.ConfigFilename, EnvConfigFile, "config file")
		setFromEnv(&c.Realm, EnvRealm, "realm")
		setFromEnv(&c.ConsumerKey, EnvConsumerKey, "consumer key")
		setFromEnv(&c.AccessToken, EnvAccessToken, "access token")
		setFromEnv(&c.BaseURL, EnvBaseURL, "base URL")
		if c.AccessTokenSecret == "" && c.SecretName == "" {
			c.AccessTokenSecret = os.Getenv(EnvAccessTokenSecret)
			if c.AccessTokenSecret != "" {
				log.Debug("Set access token secret to %s", strings.Repeat("*", len("hunter2")))
			}
			setFromEnv(&c.SecretName, EnvSecretName, "access token secret name")
		}
		if !c.TestMode {
			if value, ok := os.LookupEnv(EnvTestMode); ok {
				if enabled, err := strconv.ParseBool(value); err == nil {
					c.TestMode = enabled
					log.Debug("Set test mode to '%v'", c.TestMode)
				} else {
					log.Warning("Ignoring %s: %s", EnvTestMode, err)
				}
			}
		}

		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		setFromEnv(&c.Backend.FileDir, EnvKeyringPath, "keyring File Path")
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
	if c.Flags.isSet(FlagKeys) {
		setFromEnv(&c.SignatureKeyFilename, EnvSignatureKeyFile, "signature key file")
		setFromEnv(&c.EncryptionKeyFilename, EnvEncryptionKeyFile, "encryption key file")
		setFromEnv(&c.DHParamFilename, EnvDHParamFile, "DH parameter file")
	}
	if c.Flags.isSet(FlagCache) {
		setFromEnv(&c.CacheFilename, EnvCacheFile, "session cache file")
	}
}

// LoadConfigFile fills fields that are still empty from c.ConfigFilename. Relative paths in the
// file are resolved against the file's directory. Does nothing if c.ConfigFilename is empty.
func (c *Config) LoadConfigFile() error {
	if c.ConfigFilename == "" {
		return nil
	}
	data, err := os.ReadFile(c.ConfigFilename)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.ConfigFilename, err)
	}
	log.Debug("Loaded settings from %s", c.ConfigFilename)

	dir := filepath.Dir(c.ConfigFilename)
	path := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	fill := func(field *string, value string) {
		if *field == "" {
			*field = value
		}
	}

	if c.Flags.isSet(FlagOAuth) {
		fill(&c.Realm, fc.Realm)
		fill(&c.ConsumerKey, fc.ConsumerKey)
		fill(&c.AccessToken, fc.AccessToken)
		fill(&c.BaseURL, fc.BaseURL)
		if c.SecretName == "" {
			fill(&c.AccessTokenSecret, fc.AccessTokenSecret)
		}
		c.TestMode = c.TestMode || fc.IsTest
	}
	if c.Flags.isSet(FlagKeys) {
		fill(&c.SignatureKeyFilename, path(fc.SignatureKeyFile))
		fill(&c.EncryptionKeyFilename, path(fc.EncryptionKeyFile))
		fill(&c.DHParamFilename, path(fc.DHParamFile))
	}
	return nil
}

// LoadCredentials loads RSA keys, DH parameters and the access token secret, prompting for a
// keyring password if needed. Call this method before [Config.Connect] to prevent interactive
// prompts from counting against timeouts.
func (c *Config) LoadCredentials() error {
	if c.Flags.isSet(FlagKeys) {
		if err := c.loadKeys(); err != nil {
			return err
		}
	}
	if c.Flags.isSet(FlagOAuth) {
		if _, err := c.secret(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) loadKeys() error {
	var err error
	if c.signatureKey == nil && c.SignatureKeyFilename != "" {
		if c.signatureKey, err = protocol.LoadPrivateKey(c.SignatureKeyFilename); err != nil {
			return fmt.Errorf("failed to load signature key: %w", err)
		}
	}
	if c.encryptionKey == nil {
		if c.EncryptionKeyFilename == "" {
			log.Debug("No encryption key file provided, using signature key")
			c.encryptionKey = c.signatureKey
		} else if c.encryptionKey, err = protocol.LoadPrivateKey(c.EncryptionKeyFilename); err != nil {
			return fmt.Errorf("failed to load encryption key: %w", err)
		}
	}
	if c.dhParams == nil && c.DHParamFilename != "" {
		if c.dhParams, err = protocol.LoadDHParameters(c.DHParamFilename); err != nil {
			return fmt.Errorf("failed to load DH parameters: %w", err)
		}
	}
	return nil
}

func (c *Config) secret() (string, error) {
	if c.AccessTokenSecret != "" {
		return c.AccessTokenSecret, nil
	}
	if c.SecretName == "" {
		return "", ErrNoSecretSpecified
	}
	secret, err := c.LoadAccessTokenSecretFromKeyring()
	if err != nil {
		return "", err
	}
	c.AccessTokenSecret = secret
	return secret, nil
}

// Credentials returns the credentials described by c. Missing credentials are reported by
// [session.New].
func (c *Config) Credentials() (session.Credentials, error) {
	if err := c.LoadCredentials(); err != nil && !errors.Is(err, ErrNoSecretSpecified) {
		return session.Credentials{}, err
	}
	return session.Credentials{
		Realm:             c.Realm,
		ConsumerKey:       c.ConsumerKey,
		AccessToken:       c.AccessToken,
		AccessTokenSecret: c.AccessTokenSecret,
		SignatureKey:      c.signatureKey,
		EncryptionKey:     c.encryptionKey,
		DHParameters:      c.dhParams,
	}, nil
}

// Options returns the session options described by c, including a cached live session token when
// one is available.
func (c *Config) Options() ([]session.Option, error) {
	var options []session.Option
	if c.BaseURL != "" {
		options = append(options, session.WithBaseURL(c.BaseURL))
	}
	if c.TestMode {
		options = append(options, session.WithTestMode())
	}
	if c.Flags.isSet(FlagCache) {
		if err := c.loadCache(); err != nil {
			return nil, err
		}
		if c.sessions != nil {
			options = append(options, session.WithSessionCache(c.sessions))
		}
	}
	return options, nil
}

// Connect returns a Session that holds a live session token. A cached token is used if one is
// available; otherwise Connect performs the handshake.
func (c *Config) Connect(ctx context.Context) (*session.Session, error) {
	creds, err := c.Credentials()
	if err != nil {
		return nil, err
	}
	options, err := c.Options()
	if err != nil {
		return nil, err
	}
	s, err := session.New(creds, options...)
	if err != nil {
		return nil, err
	}
	if s.Valid() {
		log.Debug("Resuming session with cached live session token")
		return s, nil
	}
	log.Info("Requesting live session token...")
	if err := s.RequestLiveSessionToken(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateCachedSessions updates c.CacheFilename with s's live session token.
//
// If c.CacheFilename is not set, then this method does nothing.
func (c *Config) UpdateCachedSessions(s *session.Session) {
	if c.CacheFilename != "" && c.sessions != nil {
		if err := s.UpdateCachedSessions(c.sessions); err != nil {
			log.Error("Error updating cache: %s", err)
			return
		}
		if err := c.sessions.ExportToFile(c.CacheFilename); err != nil {
			log.Error("Error updating cache: %s", err)
		}
	}
}

func (c *Config) loadCache() error {
	if c.CacheFilename == "" || c.sessions != nil {
		return nil
	}
	log.Debug("Loading cache from %s...", c.CacheFilename)
	var err error
	c.sessions, err = cache.ImportFromFile(c.CacheFilename)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load session cache: %s", err)
		}
		// Create a new cache if one couldn't be loaded from the file
		c.sessions = cache.New(0)
	}
	return nil
}
