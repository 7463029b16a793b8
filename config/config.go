// Package config 加载 gptdb 的 YAML 配置，并以环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config gptdb 进程配置。
type Config struct {
	// Home gptdbs 根目录，环境变量 GPTDB_HOME
	Home      string          `yaml:"home"`
	Language  string          `yaml:"language"`
	APIKeys   []string        `yaml:"api_keys"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Model     ModelConfig     `yaml:"model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	Repos     []RepoConfig    `yaml:"repos"`
	// Serve 各服务应用的额外配置，serve.<app>.<key> 对应 gptdb.serve.<app>.<key>
	Serve map[string]map[string]any `yaml:"serve"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr 监听地址。
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ModelConfig 默认大模型，Name 为空时由代理类型决定。
type ModelConfig struct {
	Name            string `yaml:"name"`
	ProxyServerType string `yaml:"proxy_server_type"`
	APIKey          string `yaml:"api_key"`
	APIBase         string `yaml:"api_base"`
}

type EmbeddingConfig struct {
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	APIBase string `yaml:"api_base"`
}

// DatabaseConfig DSN 为空时使用进程内存储。
type DatabaseConfig struct {
	// DSN 元数据库（pgx）
	DSN string `yaml:"dsn"`
	// VectorDSN 向量库（lib/pq + pgvector）
	VectorDSN string `yaml:"vector_dsn"`
}

// RepoConfig gptdbs 默认仓库。
type RepoConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Branch string `yaml:"branch"`
}

const (
	DefaultPort            = 5670
	DefaultModel           = "chatgpt_proxyllm"
	DefaultEmbeddingModel  = "hashing"
	DefaultLanguage        = "zh"
	DefaultShutdownTimeout = 10 * time.Second
)

// DefaultRepo 未配置仓库时安装的社区仓库。
var DefaultRepo = RepoConfig{Name: "eosphoros/dbgpts", URL: "https://github.com/eosphoros-ai/dbgpts.git", Branch: "main"}

// Load 依次读取 YAML 文件、.env 与环境变量，path 为空时只使用环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err = yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv 加载工作目录和配置文件目录下的 .env，已存在的环境变量不会被覆盖。
func loadDotEnv(path string) error {
	files := []string{".env"}
	if path != "" {
		if f := filepath.Join(filepath.Dir(path), ".env"); f != ".env" {
			files = append(files, f)
		}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.Home, "GPTDB_HOME")
	setString(&c.Language, "LANGUAGE")
	if v := os.Getenv("API_KEYS"); v != "" {
		c.APIKeys = splitList(v)
	}
	if v := os.Getenv("WEB_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Model.Name, "LLM_MODEL")
	setString(&c.Model.ProxyServerType, "PROXY_SERVER_TYPE")
	setString(&c.Model.APIKey, "PROXY_API_KEY")
	setString(&c.Model.APIBase, "PROXY_SERVER_URL")
	setString(&c.Embedding.Model, "EMBEDDING_MODEL")
	setString(&c.Embedding.APIKey, "EMBEDDING_API_KEY")
	setString(&c.Embedding.APIBase, "EMBEDDING_API_BASE")
	setString(&c.Database.DSN, "DB_DSN")
	setString(&c.Database.VectorDSN, "VECTOR_DB_DSN")
}

func (c *Config) applyDefaults() {
	if c.Home == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Home = filepath.Join(home, ".gptdb")
		} else {
			c.Home = ".gptdb"
		}
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Model.Name == "" {
		c.Model.Name = DefaultModel
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = DefaultEmbeddingModel
	}
	if len(c.Repos) == 0 {
		c.Repos = []RepoConfig{DefaultRepo}
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	var errs []error
	for i, r := range c.Repos {
		if strings.Count(r.Name, "/") != 1 {
			errs = append(errs, fmt.Errorf("repos[%d].name must be <org>/<name>, got %q", i, r.Name))
		}
		if r.URL == "" {
			errs = append(errs, fmt.Errorf("repos[%d].url is required", i))
		}
	}
	return errors.Join(errs...)
}

// ServeValues 展开为 gptdb.serve.<app>.<key> 配置项。
func (c *Config) ServeValues() map[string]any {
	out := make(map[string]any)
	for app, kv := range c.Serve {
		for k, v := range kv {
			out["gptdb.serve."+app+"."+k] = v
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
