package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"free-alt-finder/internal/common"
)

// EnvPrefix 所有环境变量的前缀，例如 FREEALT_STORE_URL
const EnvPrefix = "FREEALT"

// 存储驱动
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// 生成服务提供方
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Search    SearchConfig    `mapstructure:"search"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	Mode           string        `mapstructure:"mode"` // gin 模式: debug / release / test
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Credential      string        `mapstructure:"credential"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
}

type GeneratorConfig struct {
	Provider    string  `mapstructure:"provider"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type SearchConfig struct {
	// CacheLimit 缓存命中时最多返回多少条
	CacheLimit int `mapstructure:"cache_limit"`
}

type GitHubConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Token           string `mapstructure:"token"`
	MaxInactiveDays int    `mapstructure:"max_inactive_days"`
	Concurrency     int    `mapstructure:"concurrency"`
}

type NotifyConfig struct {
	Webhook string `mapstructure:"webhook"`
}

// Load 按 默认值 < 配置文件 < .env < 环境变量 的优先级加载配置。
// path 为空时在 ./configs 下查找 config.yaml，找不到文件不算错误。
func Load(path string) (*Config, error) {
	// .env 只补充未设置的环境变量，不存在也没关系
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, common.WrapError(common.ErrCodeConfig, "读取 .env 失败", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./configs")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, common.WrapError(common.ErrCodeConfig, "读取配置文件失败", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, common.WrapError(common.ErrCodeConfig, "解析配置失败", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3001")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.request_timeout", "2m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", true)

	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.url", "")
	v.SetDefault("store.credential", "")
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", "30m")
	v.SetDefault("store.connect_retries", 3)

	v.SetDefault("generator.provider", ProviderOpenAI)
	v.SetDefault("generator.base_url", "https://router.huggingface.co/v1")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.model", "Qwen/Qwen2.5-Coder-32B-Instruct")
	v.SetDefault("generator.max_tokens", 2000)
	v.SetDefault("generator.temperature", 0.7)

	v.SetDefault("search.cache_limit", 10)

	v.SetDefault("github.enabled", false)
	v.SetDefault("github.token", "")
	v.SetDefault("github.max_inactive_days", 365)
	v.SetDefault("github.concurrency", 4)

	v.SetDefault("notify.webhook", "")
}

// Validate 启动时校验必填项，缺失任何一项都直接失败
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Store.URL) == "" {
		missing = append(missing, envName("store.url"))
	}
	if c.Store.Driver == DriverPostgres && strings.TrimSpace(c.Store.Credential) == "" {
		missing = append(missing, envName("store.credential"))
	}
	if strings.TrimSpace(c.Generator.APIKey) == "" {
		missing = append(missing, envName("generator.api_key"))
	}
	if len(missing) > 0 {
		return common.NewError(common.ErrCodeConfig, "缺少必需的环境变量: "+strings.Join(missing, ", "))
	}

	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return common.NewError(common.ErrCodeConfig, fmt.Sprintf("不支持的存储驱动 %q", c.Store.Driver))
	}
	switch c.Generator.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return common.NewError(common.ErrCodeConfig, fmt.Sprintf("不支持的生成服务 %q", c.Generator.Provider))
	}
	if c.Search.CacheLimit <= 0 {
		return common.NewError(common.ErrCodeConfig, "search.cache_limit 必须大于 0")
	}
	return nil
}

// DSN 返回带凭据的连接串。postgres 时把 credential 作为密码写入 URL，
// URL 里已经带了密码则保持不变。
func (s StoreConfig) DSN() (string, error) {
	if s.Driver != DriverPostgres || s.Credential == "" {
		return s.URL, nil
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", common.WrapError(common.ErrCodeConfig, "store.url 不是合法的 URL", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", common.NewError(common.ErrCodeConfig, "store.url 必须是 postgres:// 连接串")
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		return s.URL, nil
	}
	username := "postgres"
	if u.User != nil && u.User.Username() != "" {
		username = u.User.Username()
	}
	u.User = url.UserPassword(username, s.Credential)
	return u.String(), nil
}

// Summary 用于启动日志，只说明是否设置，不输出密钥内容
func (c *Config) Summary() map[string]bool {
	return map[string]bool{
		envName("store.url"):         c.Store.URL != "",
		envName("store.credential"):  c.Store.Credential != "",
		envName("generator.api_key"): c.Generator.APIKey != "",
		envName("github.token"):      c.GitHub.Token != "",
		envName("notify.webhook"):    c.Notify.Webhook != "",
	}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
