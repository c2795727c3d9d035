// Package config enumerates every option vmsync recognises. Nothing in the
// other packages reads ambient state: each operation gets the pieces of this
// struct it needs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orchnova/vmsync/internal/utils"
	"github.com/spf13/viper"
)

var (
	home, _           = os.UserHomeDir()
	DefaultStateDir   = filepath.Join(home, ".vmsync")
	DefaultConfigPath = filepath.Join(DefaultStateDir, "config.json")
)

const (
	DefaultRetention     = 7
	DefaultRemoteTimeout = 15 * time.Second
	// DefaultCommandTimeout bounds a whole remote listing or archive run.
	DefaultCommandTimeout = 10 * time.Minute
	DefaultArchivePrefix = "backup"
)

var (
	DefaultIncludeExtensions = []string{".py", ".sh", ".md", ".txt", ".json", ".toml"}
	DefaultSourceExtensions  = []string{".py", ".sh"}
	DefaultExcludeDirs       = []string{"venv", ".venv", "__pycache__", ".cache", ".git", ".mypy_cache", ".pytest_cache", "node_modules"}
	DefaultExcludeFiles      = []string{"service-account-key.json", "*-key.json", ".env", "*.pem", "id_rsa*"}
)

var (
	ErrNoLocalRoot  = errors.New("config: local_root is required")
	ErrNoRemoteHost = errors.New("config: remote.host is required")
	ErrNoRemoteRoot = errors.New("config: remote.root is required")
)

type RemoteConfig struct {
	Host         string        `mapstructure:"host" json:"host"`
	User         string        `mapstructure:"user" json:"user"`
	Port         int           `mapstructure:"port" json:"port,omitempty"`
	Root         string        `mapstructure:"root" json:"root"`
	IdentityFile string        `mapstructure:"identity_file" json:"identity_file,omitempty"`
	// Timeout bounds connecting and the reachability ping.
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" json:"command_timeout,omitempty"`
}

// Target is the user@host form understood by ssh and rsync.
func (r RemoteConfig) Target() string {
	if r.User == "" {
		return r.Host
	}
	return r.User + "@" + r.Host
}

type FilterConfig struct {
	IncludeExtensions []string `mapstructure:"include_extensions" json:"include_extensions"`
	SourceExtensions  []string `mapstructure:"source_extensions" json:"source_extensions"`
	ExcludeDirs       []string `mapstructure:"exclude_dirs" json:"exclude_dirs"`
	ExcludeFiles      []string `mapstructure:"exclude_files" json:"exclude_files"`
}

type BackupConfig struct {
	LocalDir  string `mapstructure:"local_dir" json:"local_dir"`
	RemoteDir string `mapstructure:"remote_dir" json:"remote_dir"`
	Retention int    `mapstructure:"retention" json:"retention"`
	Prefix    string `mapstructure:"prefix" json:"prefix"`
	// Always archives both sides even when the decision is a noop.
	Always bool `mapstructure:"always" json:"always"`
}

type StorageConfig struct {
	Bucket        string `mapstructure:"bucket" json:"bucket,omitempty"`
	Region        string `mapstructure:"region" json:"region,omitempty"`
	Endpoint      string `mapstructure:"endpoint" json:"endpoint,omitempty"`
	AccessKey     string `mapstructure:"access_key" json:"-"`
	SecretKey     string `mapstructure:"secret_key" json:"-"`
	Prefix        string `mapstructure:"prefix" json:"prefix,omitempty"`
	PublicBaseURL string `mapstructure:"public_base_url" json:"public_base_url,omitempty"`
	UploadBackups bool   `mapstructure:"upload_backups" json:"upload_backups"`
}

func (s StorageConfig) Enabled() bool {
	return s.Bucket != ""
}

type DeployConfig struct {
	Service        string            `mapstructure:"service" json:"service,omitempty"`
	Project        string            `mapstructure:"project" json:"project,omitempty"`
	Region         string            `mapstructure:"region" json:"region,omitempty"`
	ServiceAccount string            `mapstructure:"service_account" json:"service_account,omitempty"`
	Source         string            `mapstructure:"source" json:"source,omitempty"`
	EnvFile        string            `mapstructure:"env_file" json:"env_file,omitempty"`
	Env            map[string]string `mapstructure:"env" json:"env,omitempty"`
}

type ProofConfig struct {
	URL   string `mapstructure:"url" json:"url,omitempty"`
	Agent string `mapstructure:"agent" json:"agent,omitempty"`
}

type SyncConfig struct {
	ThreeWay bool `mapstructure:"three_way" json:"three_way"`
}

type Config struct {
	LocalRoot string        `mapstructure:"local_root" json:"local_root"`
	StateDir  string        `mapstructure:"state_dir" json:"state_dir"`
	Remote    RemoteConfig  `mapstructure:"remote" json:"remote"`
	Filter    FilterConfig  `mapstructure:"filter" json:"filter"`
	Backup    BackupConfig  `mapstructure:"backup" json:"backup"`
	Storage   StorageConfig `mapstructure:"storage" json:"storage"`
	Deploy    DeployConfig  `mapstructure:"deploy" json:"deploy"`
	Proof     ProofConfig   `mapstructure:"proof" json:"proof"`
	Sync      SyncConfig    `mapstructure:"sync" json:"sync"`
	Path      string        `mapstructure:"-" json:"-"`
}

// SetDefaults registers the defaults on v so flags, env and file all layer
// on top of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.timeout", DefaultRemoteTimeout)
	v.SetDefault("remote.command_timeout", DefaultCommandTimeout)
	v.SetDefault("filter.include_extensions", DefaultIncludeExtensions)
	v.SetDefault("filter.source_extensions", DefaultSourceExtensions)
	v.SetDefault("filter.exclude_dirs", DefaultExcludeDirs)
	v.SetDefault("filter.exclude_files", DefaultExcludeFiles)
	v.SetDefault("backup.retention", DefaultRetention)
	v.SetDefault("backup.prefix", DefaultArchivePrefix)
	v.SetDefault("backup.always", true)
	v.SetDefault("deploy.region", "us-central1")
	v.SetDefault("deploy.source", ".")
	v.SetDefault("proof.agent", "vmsync")
}

// Load decodes v into a Config and fills derived paths.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	stateDir, err := utils.ResolvePath(c.StateDir)
	if err != nil {
		return fmt.Errorf("config state_dir: %w", err)
	}
	c.StateDir = stateDir

	if c.LocalRoot != "" {
		root, err := utils.ResolvePath(c.LocalRoot)
		if err != nil {
			return fmt.Errorf("config local_root: %w", err)
		}
		c.LocalRoot = root
	}

	if c.Backup.LocalDir == "" {
		c.Backup.LocalDir = filepath.Join(c.StateDir, "backups")
	}
	if c.Backup.RemoteDir == "" && c.Remote.Root != "" {
		c.Backup.RemoteDir = strings.TrimRight(c.Remote.Root, "/") + "-backups"
	}
	if c.Backup.Retention <= 0 {
		c.Backup.Retention = DefaultRetention
	}
	if c.Backup.Prefix == "" {
		c.Backup.Prefix = DefaultArchivePrefix
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = DefaultRemoteTimeout
	}
	if c.Remote.CommandTimeout <= 0 {
		c.Remote.CommandTimeout = DefaultCommandTimeout
	}
	if len(c.Filter.IncludeExtensions) == 0 {
		c.Filter.IncludeExtensions = DefaultIncludeExtensions
	}
	if len(c.Filter.SourceExtensions) == 0 {
		c.Filter.SourceExtensions = DefaultSourceExtensions
	}
	return nil
}

// ValidateSync checks the options every sync-side command depends on.
func (c *Config) ValidateSync() error {
	var errs []error
	if c.LocalRoot == "" {
		errs = append(errs, ErrNoLocalRoot)
	}
	if c.Remote.Host == "" {
		errs = append(errs, ErrNoRemoteHost)
	}
	if c.Remote.Root == "" {
		errs = append(errs, ErrNoRemoteRoot)
	}
	if c.Remote.Port < 0 || c.Remote.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: remote.port %d out of range", c.Remote.Port))
	}
	if c.Storage.UploadBackups && !c.Storage.Enabled() {
		errs = append(errs, errors.New("config: storage.upload_backups needs storage.bucket"))
	}
	return errors.Join(errs...)
}

func (c *Config) ValidateDeploy() error {
	var errs []error
	if c.Deploy.Service == "" {
		errs = append(errs, errors.New("config: deploy.service is required"))
	}
	if c.Deploy.Region == "" {
		errs = append(errs, errors.New("config: deploy.region is required"))
	}
	if c.Deploy.ServiceAccount == "" {
		errs = append(errs, errors.New("config: deploy.service_account is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) ValidateProof() error {
	if c.Proof.URL == "" {
		return errors.New("config: proof.url is required")
	}
	if !strings.HasPrefix(c.Proof.URL, "https://") && !strings.HasPrefix(c.Proof.URL, "http://") {
		return fmt.Errorf("config: proof.url %q is not an http(s) url", c.Proof.URL)
	}
	return nil
}

func (c *Config) LockPath() string    { return filepath.Join(c.StateDir, "vmsync.lock") }
func (c *Config) MarkerPath() string  { return filepath.Join(c.StateDir, "last_sync") }
func (c *Config) JournalPath() string { return filepath.Join(c.StateDir, "journal.db") }
func (c *Config) LogPath() string     { return filepath.Join(c.StateDir, "logs", "vmsync.log") }
