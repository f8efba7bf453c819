package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type RateLimitConfig struct {
	MessageLimit      int           `mapstructure:"messageLimit"`
	MessageWindow     time.Duration `mapstructure:"messageWindow"`
	ConnectionLimit   int           `mapstructure:"connectionLimit"`
	ConnectionWindow  time.Duration `mapstructure:"connectionWindow"`
	SessionLimit      int           `mapstructure:"sessionLimit"`
	SessionWindow     time.Duration `mapstructure:"sessionWindow"`
	BucketCapacity    float64       `mapstructure:"bucketCapacity"`
	BucketRefillRate  float64       `mapstructure:"bucketRefillRate"`
	CleanupInterval   time.Duration `mapstructure:"cleanupInterval"`
	BucketIdleExpiry  time.Duration `mapstructure:"bucketIdleExpiry"`
	MaxTrackedClients int           `mapstructure:"maxTrackedClients"`
}

type PoolConfig struct {
	MaxConnections      int           `mapstructure:"maxConnections"`
	MaxConnectionsPerIP int           `mapstructure:"maxConnectionsPerIP"`
	MaxIdleTime         time.Duration `mapstructure:"maxIdleTime"`
	HealthCheckInterval time.Duration `mapstructure:"healthCheckInterval"`
	OccupancyWarning    float64       `mapstructure:"occupancyWarning"`
	OccupancyCritical   float64       `mapstructure:"occupancyCritical"`
	MemoryWarningBytes  int64         `mapstructure:"memoryWarningBytes"`
	MemoryCriticalBytes int64         `mapstructure:"memoryCriticalBytes"`
}

type RegistryConfig struct {
	MaintenanceInterval time.Duration `mapstructure:"maintenanceInterval"`
	IdleTimeout         time.Duration `mapstructure:"idleTimeout"`
	SendRetries         int           `mapstructure:"sendRetries"`
	SendRetryDelay      time.Duration `mapstructure:"sendRetryDelay"`
	WriteTimeout        time.Duration `mapstructure:"writeTimeout"`
	PingInterval        time.Duration `mapstructure:"pingInterval"`
	PongTimeout         time.Duration `mapstructure:"pongTimeout"`
	MaxMessageSize      int64         `mapstructure:"maxMessageSize"`
}

type KafkaConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	BootstrapServers string   `mapstructure:"bootstrapServers"`
	GroupID          string   `mapstructure:"groupId"`
	Topics           []string `mapstructure:"topics"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PresenceTTL time.Duration `mapstructure:"presenceTTL"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHATGATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 10*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 30*time.Second)

	v.SetDefault("rateLimit.messageLimit", 30)
	v.SetDefault("rateLimit.messageWindow", 60*time.Second)
	v.SetDefault("rateLimit.connectionLimit", 50)
	v.SetDefault("rateLimit.connectionWindow", 300*time.Second)
	v.SetDefault("rateLimit.sessionLimit", 5)
	v.SetDefault("rateLimit.sessionWindow", time.Hour)
	v.SetDefault("rateLimit.bucketCapacity", 10.0)
	v.SetDefault("rateLimit.bucketRefillRate", 0.5)
	v.SetDefault("rateLimit.cleanupInterval", 300*time.Second)
	v.SetDefault("rateLimit.bucketIdleExpiry", time.Hour)
	v.SetDefault("rateLimit.maxTrackedClients", 10000)

	v.SetDefault("pool.maxConnections", 1000)
	v.SetDefault("pool.maxConnectionsPerIP", 25)
	v.SetDefault("pool.maxIdleTime", 30*time.Minute)
	v.SetDefault("pool.healthCheckInterval", 60*time.Second)
	v.SetDefault("pool.occupancyWarning", 0.7)
	v.SetDefault("pool.occupancyCritical", 0.9)
	v.SetDefault("pool.memoryWarningBytes", int64(256<<20))
	v.SetDefault("pool.memoryCriticalBytes", int64(512<<20))

	v.SetDefault("registry.maintenanceInterval", 30*time.Second)
	v.SetDefault("registry.idleTimeout", 30*time.Minute)
	v.SetDefault("registry.sendRetries", 2)
	v.SetDefault("registry.sendRetryDelay", 100*time.Millisecond)
	v.SetDefault("registry.writeTimeout", 10*time.Second)
	v.SetDefault("registry.pingInterval", 30*time.Second)
	v.SetDefault("registry.pongTimeout", 60*time.Second)
	v.SetDefault("registry.maxMessageSize", 4096)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.bootstrapServers", "localhost:9092")
	v.SetDefault("kafka.groupId", "chat-gateway")
	v.SetDefault("kafka.topics", []string{"chat-admin-replies", "chat-session-events", "chat-product-notices"})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presenceTTL", 24*time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
