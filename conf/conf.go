package conf

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/kr/pretty"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

var (
	conf *Config
	once sync.Once
)

type Config struct {
	Env      string
	Hertz    Hertz    `yaml:"hertz"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Registry Registry `yaml:"registry"`
	Ledger   Ledger   `yaml:"ledger"`
	Gateway  Gateway  `yaml:"gateway"`
	Pricing  Pricing  `yaml:"pricing"`
	Partner  Partner  `yaml:"partner"`
}

type Redis struct {
	Address  string `yaml:"address" validate:"nonzero"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
	DB       int    `yaml:"db"`
}

type Postgres struct {
	DSN          string `yaml:"dsn" validate:"nonzero"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

// Kafka Topics: ledger_entries / external_transfers
type Kafka struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
}

type Registry struct {
	RegistryAddress []string `yaml:"registry_address"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	NodeID          string   `yaml:"node_id"`
}

// Ledger 资金核心参数
type Ledger struct {
	CodePrefix       string        `yaml:"code_prefix" validate:"nonzero"`
	CodeTTL          time.Duration `yaml:"code_ttl" validate:"nonzero"`
	ClaimLeaseTTL    time.Duration `yaml:"claim_lease_ttl" validate:"nonzero"`
	SweepSpec        string        `yaml:"sweep_spec" validate:"nonzero"`
	SweepBatch       int           `yaml:"sweep_batch" validate:"min=1"`
	SweepWorkers     int           `yaml:"sweep_workers" validate:"min=1"`
	CompensateSpec   string        `yaml:"compensate_spec" validate:"nonzero"`
	FunTierFee       string        `yaml:"fun_tier_fee" validate:"nonzero"`
	SuperTierFee     string        `yaml:"super_tier_fee" validate:"nonzero"`
	SuperPlatformFee string        `yaml:"super_platform_fee" validate:"nonzero"`
}

type Gateway struct {
	ChainURL       string        `yaml:"chain_url" validate:"nonzero"`
	ChainSecret    string        `yaml:"chain_secret"`
	PartnerURL     string        `yaml:"partner_url" validate:"nonzero"`
	PartnerSecret  string        `yaml:"partner_secret"`
	Timeout        time.Duration `yaml:"timeout"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	SettlementAddr string        `yaml:"settlement_address"`
}

type Pricing struct {
	PriceKey string        `yaml:"price_key" validate:"nonzero"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Partner 合作方回调（claim）鉴权与限流
type Partner struct {
	InternalSecret string  `yaml:"internal_secret" validate:"nonzero"`
	RateLimit      float64 `yaml:"rate_limit"`
	Burst          int     `yaml:"burst"`
}

type Hertz struct {
	Service         string `yaml:"service"`
	Address         string `yaml:"address"`
	EnablePprof     bool   `yaml:"enable_pprof"`
	EnableGzip      bool   `yaml:"enable_gzip"`
	EnableAccessLog bool   `yaml:"enable_access_log"`
	LogLevel        string `yaml:"log_level"`
	LogFileName     string `yaml:"log_file_name"`
	LogMaxSize      int    `yaml:"log_max_size"`
	LogMaxBackups   int    `yaml:"log_max_backups"`
	LogMaxAge       int    `yaml:"log_max_age"`
	Port            int    `yaml:"port"`
}

// GetConf gets configuration instance
func GetConf() *Config {
	once.Do(initConf)
	return conf
}

func initConf() {
	prefix := "conf"
	confFileRelPath := filepath.Join(prefix, filepath.Join(GetEnv(), "conf.yaml"))
	c, err := Load(confFileRelPath)
	if err != nil {
		panic(err)
	}
	conf = c
	if conf.Env != "test" {
		pretty.Printf("%+v\n", conf)
	}
}

// Load 读取并校验指定路径的配置文件
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := new(Config)
	if err := yaml.Unmarshal(content, c); err != nil {
		hlog.Errorf("parse yaml error - %v", err)
		return nil, err
	}
	if err := validator.Validate(c); err != nil {
		hlog.Errorf("validate config error - %v", err)
		return nil, err
	}
	c.Env = GetEnv()
	return c, nil
}

func GetEnv() string {
	e := os.Getenv("GO_ENV")
	if len(e) == 0 {
		return "test"
	}
	return e
}

func LogLevel() hlog.Level {
	level := GetConf().Hertz.LogLevel
	switch level {
	case "trace":
		return hlog.LevelTrace
	case "debug":
		return hlog.LevelDebug
	case "info":
		return hlog.LevelInfo
	case "notice":
		return hlog.LevelNotice
	case "warn":
		return hlog.LevelWarn
	case "error":
		return hlog.LevelError
	case "fatal":
		return hlog.LevelFatal
	default:
		return hlog.LevelInfo
	}
}
