package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GitLab struct {
		BaseURL  string        `yaml:"base_url"`
		Token    string        `yaml:"token"`
		Timeout  time.Duration `yaml:"timeout"`
		PerPage  int           `yaml:"per_page"`
		MaxPages int           `yaml:"max_pages"`
		CABundle string        `yaml:"ca_bundle"`
		Insecure bool          `yaml:"insecure"`
	} `yaml:"gitlab"`

	Poll struct {
		Interval     time.Duration `yaml:"interval"`
		ProjectLimit int           `yaml:"project_limit"`
	} `yaml:"poll"`

	HTTP struct {
		Addr     string        `yaml:"addr"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
		WebDir   string        `yaml:"web_dir"`
	} `yaml:"http"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`
}

func Load(path string) (Config, error) {
	var c Config

	c.GitLab.BaseURL = "https://gitlab.com"
	c.GitLab.Timeout = 10 * time.Second
	c.GitLab.PerPage = 100
	c.GitLab.MaxPages = 50
	c.Poll.Interval = 30 * time.Second
	c.Poll.ProjectLimit = 25
	c.HTTP.Addr = ":8080"
	c.HTTP.CacheTTL = 5 * time.Second
	c.Log.Level = "info"
	c.Log.MaxSizeMB = 50
	c.Log.MaxBackups = 3

	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}

	if v := os.Getenv("GITLAB_BASE_URL"); v != "" {
		c.GitLab.BaseURL = v
	}

	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		c.GitLab.Token = v
	}

	if v := os.Getenv("GITLAB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GitLab.Timeout = d
		}
	}

	if v := os.Getenv("GITLAB_CA_BUNDLE"); v != "" {
		c.GitLab.CABundle = v
	}

	if v := os.Getenv("GITLAB_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.GitLab.Insecure = b
		}
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Poll.Interval = d
		}
	}

	if v := os.Getenv("PROJECT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Poll.ProjectLimit = n
		}
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}

	if c.GitLab.BaseURL == "" {
		c.GitLab.BaseURL = "https://gitlab.com"
	}

	if c.GitLab.Timeout <= 0 {
		c.GitLab.Timeout = 10 * time.Second
	}

	if c.GitLab.PerPage <= 0 || c.GitLab.PerPage > 100 {
		c.GitLab.PerPage = 100
	}

	if c.GitLab.MaxPages <= 0 {
		c.GitLab.MaxPages = 50
	}

	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 30 * time.Second
	}

	if c.Poll.ProjectLimit <= 0 {
		c.Poll.ProjectLimit = 25
	}

	if c.GitLab.Token == "" {
		return c, errors.New("GITLAB_TOKEN is required")
	}

	return c, nil
}
