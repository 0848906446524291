package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/0xPuncker/cronkeeper/pkg/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig          `json:"server"`
	Scheduler types.SchedulerConfig `json:"scheduler"`
	Reporter  ReporterConfig        `json:"reporter"`
	Slack     SlackConfig           `json:"slack"`
	Jobs      types.JobConfig       `json:"jobs"`
}

type ServerConfig struct {
	Port         string `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

// ReporterConfig controls the built-in statistics report job.
type ReporterConfig struct {
	Schedule string `json:"schedule"`
	Disabled bool   `json:"disabled"`
}

type SlackConfig struct {
	WebhookURL    string `json:"webhook_url"`
	NotifySuccess bool   `json:"notify_success"`
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if err := godotenv.Load(); err != nil {
			if err := godotenv.Load(".env.local"); err != nil {
				fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
			}
		}
		return fromEnv(), nil
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Jobs.File != "" && !filepath.IsAbs(config.Jobs.File) {
		config.Jobs.File = filepath.Join(filepath.Dir(configPath), config.Jobs.File)
	}

	return config, nil
}

func fromEnv() *Config {
	config := DefaultConfig()
	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.Scheduler.Timezone = getEnv("SCHEDULER_TIMEZONE", config.Scheduler.Timezone)
	config.Scheduler.HistoryLimit = getEnvInt("SCHEDULER_HISTORY_LIMIT", config.Scheduler.HistoryLimit)
	config.Reporter.Schedule = getEnv("REPORTER_SCHEDULE", config.Reporter.Schedule)
	config.Slack.WebhookURL = getEnv("SLACK_WEBHOOK_URL", "")
	config.Slack.NotifySuccess = getEnv("SLACK_NOTIFY_SUCCESS", "") == "true"
	config.Jobs.File = getEnv("JOBS_FILE", "")
	return config
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  "10s",
			WriteTimeout: "10s",
		},
		Scheduler: types.SchedulerConfig{
			Timezone:     "UTC",
			HistoryLimit: 50,
		},
		Reporter: ReporterConfig{
			Schedule: "@hourly",
		},
	}
}

// Timeouts parses the server read and write timeouts.
func (s ServerConfig) Timeouts() (read, write time.Duration, err error) {
	read, err = parseDuration(s.ReadTimeout, 10*time.Second)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid read timeout: %w", err)
	}
	write, err = parseDuration(s.WriteTimeout, 10*time.Second)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid write timeout: %w", err)
	}
	return read, write, nil
}

// PredefinedJobs returns the inline jobs followed by the jobs file entries.
func (c *Config) PredefinedJobs() ([]types.Job, error) {
	jobs := append([]types.Job(nil), c.Jobs.Predefined...)
	if c.Jobs.File == "" {
		return jobs, nil
	}

	fileJobs, err := LoadJobFile(c.Jobs.File)
	if err != nil {
		return nil, err
	}
	return append(jobs, fileJobs.Predefined...), nil
}

// LoadJobFile reads a YAML jobs file of the form:
//
//	jobs:
//	  - name: heartbeat
//	    schedule: "*/30 * * * * *"
//	    task: heartbeat
func LoadJobFile(path string) (*types.JobConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	var jobs types.JobConfig
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}
	jobs.File = absPath

	return &jobs, nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
