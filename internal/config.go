package internal

import (
	"fmt"
	"log/slog"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var urlPattern = regexp.MustCompile(`^https?://`)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Backend modes.
const (
	BackendModeFS     = "fs"
	BackendModeRemote = "remote"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Content ContentConfig     `yaml:"content"`
	Backend BackendConfig     `yaml:"backend"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Layout  LayoutConfig      `yaml:"layout"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Backend.Validate(); err != nil {
		return err
	}
	if c.Backend.Mode == BackendModeFS {
		if err := c.Content.Validate(); err != nil {
			return err
		}
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ContentConfig holds the local content root and the project identifier
// under which its raw file surface is served.
type ContentConfig struct {
	Path      string `yaml:"path"`
	ProjectID string `yaml:"project_id"`
}

// Validate validates the content configuration.
func (c *ContentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.ProjectID, validation.Required),
	)
}

// BackendConfig selects where documents live.
//
// Mode controls the adapter:
//   - "fs" (default): documents are files under Content.Path.
//   - "remote": documents live on another Lattice service; Remote must
//     be filled in.
type BackendConfig struct {
	Mode   string       `yaml:"mode"`
	Remote RemoteConfig `yaml:"remote"`
}

// Validate validates the backend configuration.
func (c *BackendConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = BackendModeFS
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(BackendModeFS, BackendModeRemote)),
	); err != nil {
		return err
	}
	if c.Mode == BackendModeRemote {
		return c.Remote.Validate()
	}
	return nil
}

// RemoteConfig identifies a project on a remote Lattice service.
type RemoteConfig struct {
	URL       string `yaml:"url"`
	ProjectID string `yaml:"project_id"`
	Token     string `yaml:"token"`
}

// Validate validates the remote backend configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, validation.Match(urlPattern)),
		validation.Field(&c.ProjectID, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// LayoutConfig holds layout spacing overrides. Zero values fall back to
// the engine defaults.
type LayoutConfig struct {
	RankSpacing  float64 `yaml:"rank_spacing"`
	NodeSpacing  float64 `yaml:"node_spacing"`
	LeafSpacing  float64 `yaml:"leaf_spacing"`
	BranchOffset float64 `yaml:"branch_offset"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Content: ContentConfig{
			Path:      "./content",
			ProjectID: "main",
		},
		Backend: BackendConfig{
			Mode: BackendModeFS,
		},
		SQLite: SQLiteConfig{
			Path: "./lattice.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
