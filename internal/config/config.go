// Package config loads the movies client configuration from an optional YAML
// file, an optional .env file and the environment, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dannyrandall/movies-crud/internal/movies"
)

const (
	defaultServiceName = "movies-crud"
	defaultTimeout     = 10 * time.Second
	fileName           = "movies.yaml"
)

// Config holds the client configuration.
type Config struct {
	// Table is the name of the movies table. Default: "Movies"
	Table string `yaml:"table"`

	// Region and Profile select the AWS region and shared config profile. Both
	// fall back to the AWS SDK defaults when empty.
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`

	// Endpoint overrides the DynamoDB endpoint, e.g. http://localhost:8000
	// for DynamoDB Local.
	Endpoint string `yaml:"endpoint"`

	// LocalPath selects the embedded table store instead of DynamoDB. It is a
	// directory, or ":memory:" for a store that lives as long as the process.
	LocalPath string `yaml:"localPath"`

	// Provisioned throughput used when creating the table. Default: 10 / 10
	ReadCapacity  int64 `yaml:"readCapacity"`
	WriteCapacity int64 `yaml:"writeCapacity"`

	// Timeout bounds every request. Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// WaitForTable makes table creation wait until the table is ACTIVE.
	// Default: true
	WaitForTable *bool `yaml:"waitForTable"`

	// Tracing exports OpenTelemetry traces over OTLP/gRPC.
	Tracing     bool   `yaml:"tracing"`
	ServiceName string `yaml:"serviceName"`

	// LogFile receives log output. Default: stderr
	LogFile string `yaml:"logFile"`

	// Defaults pre-fill the interactive prompts.
	Defaults Defaults `yaml:"defaults"`
}

// Defaults are the values offered at each prompt.
type Defaults struct {
	Title  string   `yaml:"title"`
	Year   int      `yaml:"year"`
	Plot   string   `yaml:"plot"`
	Rating float64  `yaml:"rating"`
	Actors []string `yaml:"actors"`
}

// Default returns the configuration used when nothing is configured.
func Default() Config {
	wait := true
	return Config{
		Table:         movies.DefaultTableName,
		ReadCapacity:  movies.DefaultReadCapacity,
		WriteCapacity: movies.DefaultWriteCapacity,
		Timeout:       defaultTimeout,
		WaitForTable:  &wait,
		ServiceName:   defaultServiceName,
		Defaults: Defaults{
			Title:  "Black Adam",
			Year:   2022,
			Plot:   "DC's new movie starring Dwayne Johnson.",
			Rating: 7.1,
			Actors: []string{"Dwayne Johnson", "Sarah Shahi", "Henry Cavill"},
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded into the environment first, without overriding variables that are
// already set. The YAML file is $MOVIES_CONFIG if set, otherwise the first
// movies.yaml found walking up from the working directory.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	path, ok := os.LookupEnv("MOVIES_CONFIG")
	if !ok {
		path = findConfigFile()
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}

	cfg.validate()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	return nil
}

func (c *Config) loadEnv() error {
	if table, ok := os.LookupEnv("MOVIES_NAME"); ok {
		c.Table = table
	}
	if region, ok := os.LookupEnv("AWS_REGION"); ok {
		c.Region = region
	}
	if profile, ok := os.LookupEnv("AWS_PROFILE"); ok {
		c.Profile = profile
	}
	if endpoint, ok := os.LookupEnv("MOVIES_ENDPOINT"); ok {
		c.Endpoint = endpoint
	}
	if path, ok := os.LookupEnv("MOVIES_LOCAL_PATH"); ok {
		c.LocalPath = path
	}
	if logFile, ok := os.LookupEnv("MOVIES_LOG_FILE"); ok {
		c.LogFile = logFile
	}
	if name, ok := copilotServiceName(); ok {
		c.ServiceName = name
	}
	if name, ok := os.LookupEnv("OTEL_SERVICE_NAME"); ok {
		c.ServiceName = name
	}
	if tracing, ok := os.LookupEnv("MOVIES_TRACING"); ok {
		v, err := strconv.ParseBool(strings.TrimSpace(tracing))
		if err != nil {
			return fmt.Errorf("parse MOVIES_TRACING: %w", err)
		}
		c.Tracing = v
	}

	return nil
}

// copilotServiceName names the service "<app>-<env>-<svc>" when it runs as
// an AWS Copilot service.
func copilotServiceName() (string, bool) {
	app, ok := os.LookupEnv("COPILOT_APPLICATION_NAME")
	if !ok {
		return "", false
	}

	env, ok := os.LookupEnv("COPILOT_ENVIRONMENT_NAME")
	if !ok {
		return "", false
	}

	svc, ok := os.LookupEnv("COPILOT_SERVICE_NAME")
	if !ok {
		return "", false
	}

	return fmt.Sprintf("%s-%s-%s", app, env, svc), true
}

// validate fills in defaults for values left empty or out of range.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = movies.DefaultTableName
	}
	if c.ReadCapacity < 1 {
		c.ReadCapacity = movies.DefaultReadCapacity
	}
	if c.WriteCapacity < 1 {
		c.WriteCapacity = movies.DefaultWriteCapacity
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.WaitForTable == nil {
		wait := true
		c.WaitForTable = &wait
	}
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
}

// TableDefinition returns the movies table as configured.
func (c Config) TableDefinition() movies.TableDefinition {
	return movies.TableDefinition{
		Name:          c.Table,
		ReadCapacity:  c.ReadCapacity,
		WriteCapacity: c.WriteCapacity,
	}
}

// findConfigFile searches for movies.yaml walking up from the current directory.
func findConfigFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, fileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
