package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GroupBuy GroupBuyConfig `mapstructure:"group_buy"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	WorkerID int64  `mapstructure:"worker_id"` // 雪花算法机器ID
}

// DatabaseConfig driver 取值 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string         `mapstructure:"driver"`
	MySQL        MySQLConfig    `mapstructure:"mysql"`
	Postgres     PostgresConfig `mapstructure:"postgres"`
	SQLite       SQLiteConfig   `mapstructure:"sqlite"`
	MaxOpenConns int            `mapstructure:"max_open_conns"`
	MaxIdleConns int            `mapstructure:"max_idle_conns"`
	LogLevel     string         `mapstructure:"log_level"`
}

type MySQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig 未启用时过期扫描只做进程内防重入
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 未启用时通知事件只写日志
type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	GroupEvent string `mapstructure:"group_event"`
	Refund     string `mapstructure:"refund"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // json / console
	Output   string `mapstructure:"output"` // stdout / file
	FilePath string `mapstructure:"file_path"`
}

type GroupBuyConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	JoinTimeout    time.Duration `mapstructure:"join_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
	SweepLockTTL   time.Duration `mapstructure:"sweep_lock_ttl"`
	MaxQuantity    int           `mapstructure:"max_quantity"` // 单笔购买数量上限
	PayTimeout     time.Duration `mapstructure:"pay_timeout"`  // 成团后未支付订单的关闭时限
}

type BusinessConfig struct {
	MaxRetryCount  int           `mapstructure:"max_retry_count"`
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
	OutboxBatch    int           `mapstructure:"outbox_batch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.mysql.host", "127.0.0.1")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.user", "root")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "groupbuy")
	v.SetDefault("database.postgres.host", "127.0.0.1")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "groupbuy")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.sqlite.path", "groupbuy.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.group_event", "groupbuy.group_event")
	v.SetDefault("kafka.topic.refund", "groupbuy.refund")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "logs/groupbuy.log")

	v.SetDefault("group_buy.ttl", 24*time.Hour)
	v.SetDefault("group_buy.join_timeout", 5*time.Second)
	v.SetDefault("group_buy.sweep_interval", time.Minute)
	v.SetDefault("group_buy.sweep_batch_size", 100)
	v.SetDefault("group_buy.sweep_lock_ttl", 5*time.Minute)
	v.SetDefault("group_buy.max_quantity", 99)
	v.SetDefault("group_buy.pay_timeout", 30*time.Minute)

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.outbox_interval", time.Second)
	v.SetDefault("business.outbox_batch", 100)
}

// LoadConfig 加载配置文件，path 为空时只使用默认值和环境变量
// 环境变量前缀 GROUPBUY，层级用下划线连接，例如 GROUPBUY_GROUP_BUY_TTL=2h
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GROUPBUY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 纯默认值配置
func Default() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}
	if c.GroupBuy.TTL <= 0 {
		return errors.New("group_buy.ttl 必须大于0")
	}
	if c.GroupBuy.JoinTimeout <= 0 {
		return errors.New("group_buy.join_timeout 必须大于0")
	}
	if c.GroupBuy.SweepInterval <= 0 {
		return errors.New("group_buy.sweep_interval 必须大于0")
	}
	if c.GroupBuy.SweepBatchSize <= 0 {
		return errors.New("group_buy.sweep_batch_size 必须大于0")
	}
	if c.GroupBuy.PayTimeout <= 0 {
		return errors.New("group_buy.pay_timeout 必须大于0")
	}
	if c.GroupBuy.MaxQuantity < 1 {
		return errors.New("group_buy.max_quantity 必须大于0")
	}
	// 锁没有过期时间时，持锁进程崩溃会让所有实例永远无法扫描
	if c.Redis.Enabled && c.GroupBuy.SweepLockTTL <= 0 {
		return errors.New("redis 已启用时 group_buy.sweep_lock_ttl 必须大于0")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka 已启用但未配置 brokers")
	}
	return nil
}
