// Package deploy ships the synced source to Cloud Run with gcloud and checks
// the resulting service.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/joho/godotenv"
	"github.com/orchnova/vmsync/internal/config"
	"github.com/orchnova/vmsync/internal/executor"
	"github.com/orchnova/vmsync/internal/httpclient"
	"gopkg.in/yaml.v3"
)

type Stage string

const (
	StageEnv      Stage = "env"
	StageDeploy   Stage = "deploy"
	StageDescribe Stage = "describe"
	StageValidate Stage = "validate"
)

var ErrNotHTTPS = errors.New("service url is not https")

// DeployError is fatal and aborts the run.
type DeployError struct {
	Service string
	Stage   Stage
	Err     error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy %s (%s): %v", e.Service, e.Stage, e.Err)
}

func (e *DeployError) Unwrap() error {
	return e.Err
}

type Request struct {
	Service        string
	Project        string
	Region         string
	ServiceAccount string
	Source         string
	Env            map[string]string
}

type Result struct {
	Service  string
	URL      string
	Duration time.Duration
	Health   *Health
}

// Health mirrors the service's /health response.
type Health struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

func (h *Health) Healthy() bool {
	return h != nil && h.Status == "healthy"
}

// RequestFromConfig builds a Request from the deploy section. The env file is
// read first so values set in config win.
func RequestFromConfig(cfg config.DeployConfig, defaultSource string) (Request, error) {
	env, err := MergeEnv(cfg.EnvFile, cfg.Env)
	if err != nil {
		return Request{}, &DeployError{Service: cfg.Service, Stage: StageEnv, Err: err}
	}
	source := cfg.Source
	if source == "" {
		source = defaultSource
	}
	return Request{
		Service:        cfg.Service,
		Project:        cfg.Project,
		Region:         cfg.Region,
		ServiceAccount: cfg.ServiceAccount,
		Source:         source,
		Env:            env,
	}, nil
}

// MergeEnv layers overrides on top of envFile. Override keys are upper-cased
// because config loading folds them to lower case.
func MergeEnv(envFile string, overrides map[string]string) (map[string]string, error) {
	env := map[string]string{}
	if envFile != "" {
		fromFile, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		for k, v := range fromFile {
			env[k] = v
		}
	}
	for k, v := range overrides {
		env[strings.ToUpper(k)] = v
	}
	return env, nil
}

// WriteEnvFile writes env as the YAML mapping gcloud's --env-vars-file expects
// and returns the file path. The caller removes it.
func WriteEnvFile(env map[string]string) (string, error) {
	data, err := yaml.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode env: %w", err)
	}
	f, err := os.CreateTemp("", "vmsync-env-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create env file: %w", err)
	}
	if err := fillSecretFile(f, data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close env file: %w", err)
	}
	return f.Name(), nil
}

var chmodFile = func(f *os.File, mode os.FileMode) error { return f.Chmod(mode) }

func fillSecretFile(f *os.File, data []byte) error {
	if err := chmodFile(f, 0o600); err != nil {
		return fmt.Errorf("chmod env file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

type Deployer struct {
	runner executor.Runner
	http   *req.Client
}

func NewDeployer(runner executor.Runner, client *req.Client) *Deployer {
	if client == nil {
		client = httpclient.New(10 * time.Second)
	}
	return &Deployer{runner: runner, http: client}
}

// DeployArgs is the gcloud invocation for r with the env file at envFile.
func DeployArgs(r Request, envFile string) []string {
	args := []string{"run", "deploy", r.Service, "--source", r.Source, "--region", r.Region, "--quiet"}
	if r.Project != "" {
		args = append(args, "--project", r.Project)
	}
	if r.ServiceAccount != "" {
		args = append(args, "--service-account", r.ServiceAccount)
	}
	if envFile != "" {
		args = append(args, "--env-vars-file", envFile)
	}
	return args
}

func describeArgs(r Request) []string {
	args := []string{"run", "services", "describe", r.Service, "--region", r.Region, "--format=value(status.url)"}
	if r.Project != "" {
		args = append(args, "--project", r.Project)
	}
	return args
}

func (d *Deployer) Deploy(ctx context.Context, r Request) (*Result, error) {
	start := time.Now()
	fail := func(stage Stage, err error) (*Result, error) {
		return nil, &DeployError{Service: r.Service, Stage: stage, Err: err}
	}

	var envFile string
	if len(r.Env) > 0 {
		path, err := WriteEnvFile(r.Env)
		if err != nil {
			return fail(StageEnv, err)
		}
		defer os.Remove(path)
		envFile = path
	}

	slog.Info("deploy", "service", r.Service, "region", r.Region, "source", r.Source, "env", len(r.Env))
	if _, err := d.runner.Run(ctx, executor.Command{Name: "gcloud", Args: DeployArgs(r, envFile), Stream: os.Stderr}); err != nil {
		return fail(StageDeploy, err)
	}

	res, err := d.runner.Run(ctx, executor.Command{Name: "gcloud", Args: describeArgs(r)})
	if err != nil {
		return fail(StageDescribe, err)
	}
	url := strings.TrimSpace(res.Stdout)
	if !strings.HasPrefix(url, "https://") {
		return fail(StageValidate, fmt.Errorf("%w: %q", ErrNotHTTPS, url))
	}

	result := &Result{Service: r.Service, URL: url, Duration: time.Since(start)}
	slog.Info("deploy complete", "service", r.Service, "url", url, "took", result.Duration)
	return result, nil
}

// Probe fetches <url>/health. Callers treat a failure as a warning.
func (d *Deployer) Probe(ctx context.Context, url string) (*Health, error) {
	var health Health
	resp, err := d.http.R().
		SetContext(ctx).
		SetSuccessResult(&health).
		Get(strings.TrimRight(url, "/") + "/health")
	if err := httpclient.CheckResponse(resp, err, "health probe"); err != nil {
		return nil, err
	}
	return &health, nil
}
