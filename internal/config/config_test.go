package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, json string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if json != "" {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(json), 0o644))
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	stateDir := t.TempDir()
	v := newViper(t, `{"local_root": "/src/app", "state_dir": "`+stateDir+`", "remote": {"host": "vm", "root": "/home/dev/app"}}`)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/src/app", cfg.LocalRoot)
	assert.Equal(t, 22, cfg.Remote.Port)
	assert.Equal(t, DefaultRemoteTimeout, cfg.Remote.Timeout)
	assert.Equal(t, DefaultCommandTimeout, cfg.Remote.CommandTimeout)
	assert.Equal(t, DefaultRetention, cfg.Backup.Retention)
	assert.Equal(t, filepath.Join(stateDir, "backups"), cfg.Backup.LocalDir)
	assert.Equal(t, "/home/dev/app-backups", cfg.Backup.RemoteDir)
	assert.Equal(t, DefaultIncludeExtensions, cfg.Filter.IncludeExtensions)
	assert.Equal(t, DefaultExcludeDirs, cfg.Filter.ExcludeDirs)
	assert.True(t, cfg.Backup.Always)
	assert.False(t, cfg.Sync.ThreeWay)
	assert.Equal(t, filepath.Join(stateDir, "vmsync.lock"), cfg.LockPath())
	assert.NoError(t, cfg.ValidateSync())
}

func TestLoad_Overrides(t *testing.T) {
	v := newViper(t, `{
		"local_root": "/src/app",
		"remote": {"host": "vm", "user": "dev", "root": "/srv/app", "timeout": "3s", "command_timeout": "30m"},
		"backup": {"retention": 3, "remote_dir": "/srv/backups"},
		"sync": {"three_way": true},
		"deploy": {"service": "orch", "env": {"ENV": "prod"}}
	}`)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Remote.CommandTimeout)
	assert.Equal(t, "dev@vm", cfg.Remote.Target())
	assert.Equal(t, 3, cfg.Backup.Retention)
	assert.Equal(t, "/srv/backups", cfg.Backup.RemoteDir)
	assert.True(t, cfg.Sync.ThreeWay)
	assert.Equal(t, "prod", cfg.Deploy.Env["env"])
}

func TestValidateSync(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{UploadBackups: true}}
	err := cfg.ValidateSync()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoLocalRoot)
	assert.ErrorIs(t, err, ErrNoRemoteHost)
	assert.ErrorIs(t, err, ErrNoRemoteRoot)
	assert.Contains(t, err.Error(), "storage.bucket")
}

func TestValidateDeployAndProof(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.ValidateDeploy())
	assert.Error(t, cfg.ValidateProof())

	cfg.Deploy = DeployConfig{Service: "orch", Region: "us-central1", ServiceAccount: "sa@p.iam.gserviceaccount.com"}
	cfg.Proof.URL = "https://orch.run.app/proof"
	assert.NoError(t, cfg.ValidateDeploy())
	assert.NoError(t, cfg.ValidateProof())

	cfg.Proof.URL = "ftp://nope"
	assert.Error(t, cfg.ValidateProof())
}

func TestRemoteTarget(t *testing.T) {
	assert.Equal(t, "vm", RemoteConfig{Host: "vm"}.Target())
	assert.Equal(t, "dev@vm", RemoteConfig{Host: "vm", User: "dev"}.Target())
}
