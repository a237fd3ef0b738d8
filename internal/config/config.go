package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

var (
	Common CommonConf
	Judge  JudgeConf
	Redis  RedisConf
	AMQP   AMQPConf
	Server ServerConf
)

// configStruct is the glue for all configuration sections
type configStruct struct {
	Common CommonConf `toml:"common"`
	Judge  JudgeConf  `toml:"judge"`
	Redis  RedisConf  `toml:"redis"`
	AMQP   AMQPConf   `toml:"amqp"`
	Server ServerConf `toml:"server"`
}

// CommonConf is the data required for all services
type CommonConf struct {
	LogDir  string `toml:"log_dir"`
	DataDir string `toml:"data_dir"`
	Debug   bool   `toml:"debug"`

	DBDSN string `toml:"db_dsn"`
}

// JudgeConf describes how to reach the external execution service
type JudgeConf struct {
	URL         string   `toml:"url"`
	AuthToken   string   `toml:"auth_token"`
	CallbackURL string   `toml:"callback_url"`
	Timeout     Duration `toml:"timeout"`
	MaxRetries  int      `toml:"max_retries"`
}

type RedisConf struct {
	// Addr may be a host:port pair or a redis:// URL. Empty disables Redis.
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type AMQPConf struct {
	// URL is the broker address. Empty disables the AMQP transport.
	URL            string `toml:"url"`
	CallbackQueue  string `toml:"callback_queue"`
	EventsExchange string `toml:"events_exchange"`
	Prefetch       int    `toml:"prefetch"`
}

type ServerConf struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Duration is a time.Duration that decodes from TOML strings like "10s"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func defaults() configStruct {
	return configStruct{
		Common: CommonConf{
			LogDir:  "/data/kilorank/logs",
			DataDir: "/data/kilorank",
			DBDSN:   "sslmode=disable user=kilorank dbname=kilorank",
		},
		Judge: JudgeConf{
			URL:        "http://localhost:2358",
			Timeout:    Duration{10 * time.Second},
			MaxRetries: 3,
		},
		AMQP: AMQPConf{
			CallbackQueue:  "kilorank.judge.callbacks",
			EventsExchange: "kilorank.events",
			Prefetch:       16,
		},
		Server: ServerConf{
			Host: "localhost",
			Port: 8090,
		},
	}
}

func set(c configStruct) {
	Common = c.Common
	Judge = c.Judge
	Redis = c.Redis
	AMQP = c.AMQP
	Server = c.Server
}

func init() {
	set(defaults())
}

// Load reads the TOML file at p on top of the defaults, then applies
// environment overrides (optionally read from a .env file next to the process).
func Load(p string) error {
	c := defaults()
	md, err := toml.DecodeFile(p, &c)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("couldn't decode config: %w", err)
	}
	if len(md.Undecoded()) > 0 {
		slog.Warn("There were a few undecoded config keys", slog.Any("keys", md.Undecoded()))
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Couldn't load .env file", slog.Any("err", err))
	}
	applyEnv(&c)

	set(c)
	SetConfigV2Path(path.Join(c.Common.DataDir, "flags.json"))
	return nil
}

func applyEnv(c *configStruct) {
	if v := os.Getenv("KILORANK_DB_DSN"); v != "" {
		c.Common.DBDSN = v
	}
	if v := os.Getenv("KILORANK_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KILORANK_AMQP_URL"); v != "" {
		c.AMQP.URL = v
	}
	if v := os.Getenv("KILORANK_JUDGE_URL"); v != "" {
		c.Judge.URL = v
	}
	if v := os.Getenv("KILORANK_JUDGE_TOKEN"); v != "" {
		c.Judge.AuthToken = v
	}
}
