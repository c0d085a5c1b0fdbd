// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（签名密钥、SMTP/MinIO 凭据）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server ServerConfig `yaml:"server"`
	Mongo  MongoConfig  `yaml:"mongo"`
	Redis  RedisConfig  `yaml:"redis"`
	MinIO  MinIOConfig  `yaml:"minio"`
	Mail   MailConfig   `yaml:"mail"`
	Auth   AuthConfig   `yaml:"auth"`
	App    AppConfig    `yaml:"app"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type MongoConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Name string `yaml:"name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"-"` // MINIO_ACCESS_KEY 环境变量
	SecretKey string `yaml:"-"` // MINIO_SECRET_KEY 环境变量
}

type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"-"` // SMTP_USER 环境变量
	Password string `yaml:"-"` // SMTP_PASS 环境变量
}

// AuthConfig 令牌策略配置，签名密钥只从环境变量读取
type AuthConfig struct {
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

type AppConfig struct {
	// FrontendURL 邮件里验证/重置链接的基地址
	FrontendURL string `yaml:"frontend_url"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env      Environment
	MongoURI string
	MongoDB  string
	RedisURL string
	APIPort  string
	MinIO    MinIOConfig
	Mail     MailConfig
	Auth     AuthConfig
	App      AppConfig

	AccessTokenSecret  string
	RefreshTokenSecret string
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	// 加载 .env
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// 解析环境
	env := parseEnv(getEnv("APP_ENV", "dev"))

	// 加载 YAML 配置
	yamlCfg := loadYAMLConfig(env)

	// 从环境变量获取敏感信息
	yamlCfg.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", "")
	yamlCfg.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", "")
	yamlCfg.Mail.Username = getEnv("SMTP_USER", "")
	yamlCfg.Mail.Password = getEnv("SMTP_PASS", "")

	cfg := &Config{
		Env:      env,
		MongoURI: buildMongoURI(yamlCfg.Mongo),
		MongoDB:  yamlCfg.Mongo.Name,
		RedisURL: buildRedisURL(yamlCfg.Redis),
		APIPort:  yamlCfg.Server.Port,
		MinIO:    yamlCfg.MinIO,
		Mail:     yamlCfg.Mail,
		Auth:     yamlCfg.Auth,
		App:      yamlCfg.App,

		AccessTokenSecret:  getEnv("ACCESS_TOKEN_SECRET", ""),
		RefreshTokenSecret: getEnv("REFRESH_TOKEN_SECRET", ""),
	}

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	// 1. 初始化默认值
	cfg := &YAMLConfig{
		Server: ServerConfig{Port: "8080"},
		Mongo:  MongoConfig{Host: "localhost", Port: 27017, Name: "taskhub"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:  MinIOConfig{Endpoint: "localhost:9000", Bucket: "taskhub"},
		Mail:   MailConfig{Host: "localhost", Port: 2525, From: "no-reply@taskhub.local"},
		Auth: AuthConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
		App: AppConfig{FrontendURL: "http://localhost:3000"},
	}

	// 2. 加载 common.yaml（公共配置）
	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	// 3. 加载 {env}.yaml（环境特定配置，覆盖公共配置）
	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// buildMongoURI 构建 MongoDB 连接字符串
func buildMongoURI(m MongoConfig) string {
	return fmt.Sprintf("mongodb://%s:%d", m.Host, m.Port)
}

// buildRedisURL 构建 Redis 连接字符串
func buildRedisURL(r RedisConfig) string {
	return fmt.Sprintf("redis://%s:%d/%d", r.Host, r.Port, r.DB)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsProduction 是否为生产环境（决定 Cookie 的 Secure 属性等）
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate 启动前校验：令牌签名密钥必须配置且彼此不同
func (c *Config) Validate() error {
	if c.AccessTokenSecret == "" || c.RefreshTokenSecret == "" {
		return fmt.Errorf("config: ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET are required")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return fmt.Errorf("config: access and refresh token secrets must differ")
	}
	return nil
}

// String 返回配置摘要（不含密钥）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Mongo: %s/%s, Redis: %s, Port: %s}",
		c.Env, c.MongoURI, c.MongoDB, c.RedisURL, c.APIPort)
}
