package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
)

const (
	Acceptance = "acceptance"
	Production = "production"
)

// envPrefixes maps an environment name to the prefix of its LUXS_* variables.
var envPrefixes = map[string]string{
	Acceptance: "LUXS_ACCEPT",
	Production: "LUXS_PROD",
}

type Environment struct {
	Name         string `toml:"-"`
	APIURL       string `toml:"api_url"`
	AuthURL      string `toml:"auth_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

type SheetsConfig struct {
	CredentialsFile string `toml:"credentials_file"`
	SpreadsheetID   string `toml:"spreadsheet_id"`
}

type Config struct {
	ListenAddress      string                  `toml:"listen_address"`
	DatasetDir         string                  `toml:"dataset_dir"`
	DefaultEnvironment string                  `toml:"default_environment"`
	PageSize           int                     `toml:"page_size"`
	BatchSize          int                     `toml:"batch_size"`
	MaxRetries         int                     `toml:"max_retries"`
	UploadTTLMinutes   int                     `toml:"upload_ttl_minutes"`
	Sheets             SheetsConfig            `toml:"sheets"`
	Environments       map[string]*Environment `toml:"environments"`
}

// Default returns a configuration pointing at the public LUXS endpoints
// without any credentials.
func Default() *Config {
	return &Config{
		ListenAddress:      ":8080",
		DatasetDir:         "config",
		DefaultEnvironment: Acceptance,
		PageSize:           2000,
		BatchSize:          100,
		MaxRetries:         3,
		UploadTTLMinutes:   60,
		Environments: map[string]*Environment{
			Acceptance: {
				APIURL:  "https://api.accept.luxsinsights.com",
				AuthURL: "https://auth.accept.luxsinsights.com/oauth2/token",
			},
			Production: {
				APIURL:  "https://api.luxsinsights.com",
				AuthURL: "https://auth.luxsinsights.com/oauth2/token",
			},
		},
	}
}

// Save writes the configuration out to a toml file.
func (c *Config) Save(filename string) error {
	b, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, b, 0644)
}

// Load reads .env, the toml file and the LUXS_* environment variables, in
// that order of increasing precedence. A missing toml file is written with
// the defaults.
func Load(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("Could not read .env: %v", err)
	}

	c := Default()
	b, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := toml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filename, err)
		}
	case os.IsNotExist(err):
		log.Infof("No config at %s, writing defaults", filename)
		if err := c.Save(filename); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	c.applyEnv(os.Getenv)
	c.setDefaults()
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("DATAMAKELAAR_LISTEN_ADDRESS"); v != "" {
		c.ListenAddress = v
	}
	if v := getenv("DATAMAKELAAR_DATASET_DIR"); v != "" {
		c.DatasetDir = v
	}
	if v := getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		c.Sheets.CredentialsFile = v
	}
	if v := getenv("SPREADSHEET_ID"); v != "" {
		c.Sheets.SpreadsheetID = v
	}
	if c.Environments == nil {
		c.Environments = map[string]*Environment{}
	}
	for name, prefix := range envPrefixes {
		env, ok := c.Environments[name]
		if !ok {
			env = &Environment{}
			c.Environments[name] = env
		}
		if v := getenv(prefix + "_API_URL"); v != "" {
			env.APIURL = v
		}
		if v := getenv(prefix + "_AUTH_URL"); v != "" {
			env.AuthURL = v
		}
		if v := getenv(prefix + "_CLIENT_ID"); v != "" {
			env.ClientID = v
		}
		if v := getenv(prefix + "_CLIENT_SECRET"); v != "" {
			env.ClientSecret = v
		}
	}
}

func (c *Config) setDefaults() {
	def := Default()
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.UploadTTLMinutes <= 0 {
		c.UploadTTLMinutes = def.UploadTTLMinutes
	}
	if c.DefaultEnvironment == "" {
		c.DefaultEnvironment = def.DefaultEnvironment
	}
	for name, env := range c.Environments {
		env.Name = name
		env.APIURL = strings.TrimRight(env.APIURL, "/")
	}
}

// EnvironmentNames returns the configured environment names in sorted order.
func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Environment looks up an environment by name, falling back to the default
// environment when name is empty.
func (c *Config) Environment(name string) (*Environment, error) {
	if name == "" {
		name = c.DefaultEnvironment
	}
	env, ok := c.Environments[name]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", name)
	}
	return env, nil
}

// Validate checks that all the values needed to talk to the API are present
// and that both URLs use HTTPS.
func (e *Environment) Validate() error {
	prefix := envPrefixes[e.Name]
	if prefix == "" {
		prefix = strings.ToUpper(e.Name)
	}
	var missing []string
	for _, kv := range []struct{ key, value string }{
		{"_API_URL", e.APIURL},
		{"_AUTH_URL", e.AuthURL},
		{"_CLIENT_ID", e.ClientID},
		{"_CLIENT_SECRET", e.ClientSecret},
	} {
		if kv.value == "" {
			missing = append(missing, prefix+kv.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration for %s environment: %s", e.Name, strings.Join(missing, ", "))
	}

	var errs []error
	for _, u := range []string{e.APIURL, e.AuthURL} {
		if err := requireHTTPS(u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func requireHTTPS(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme == "https" {
		return nil
	}
	if u.Scheme == "http" && isLoopback(u.Hostname()) {
		return nil
	}
	return fmt.Errorf("url %q must use https, got scheme %q", raw, u.Scheme)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// MaskSecret keeps the first four characters of value and hides the rest.
func MaskSecret(value string) string {
	const show = 4
	if value == "" {
		return "Not set"
	}
	if len(value) <= show {
		return strings.Repeat("*", len(value))
	}
	return value[:show] + strings.Repeat("*", len(value)-show)
}
