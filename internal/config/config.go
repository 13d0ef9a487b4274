package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix — DATAMAN_PORT, DATAMAN_DATABASES_TOKENS=postgres://...
const EnvPrefix = "DATAMAN_"

type Config struct {
	Port     string `mapstructure:"port"`
	Registry string `mapstructure:"registry"` // YAML-файл или папка; пусто — встроенный реестр

	// Ключ базы -> URL Postgres ("tokens", "analytics", ...)
	Databases map[string]string `mapstructure:"databases"`

	APIKey      string `mapstructure:"apikey"`
	APIKeyStyle string `mapstructure:"apikeystyle"` // X-API-KEY | API-KEY | Authorization
	CORSOrigin  string `mapstructure:"corsorigin"`

	LogLevel string `mapstructure:"loglevel"`
	LogDev   bool   `mapstructure:"logdev"`

	AutoMigrate       bool `mapstructure:"automigrate"`
	Strict            bool `mapstructure:"strict"`            // ошибки criteria/order — 400 вместо тихого пропуска
	AllowUnregistered bool `mapstructure:"allowunregistered"` // разрешить таблицы вне реестра

	// Captcher
	JWTPrivateKeyPath string        `mapstructure:"jwtprivatekey"`
	JWTPublicKeyPath  string        `mapstructure:"jwtpublickey"`
	TokenTTL          time.Duration `mapstructure:"tokenttl"`
	TokenMaxUsages    int64         `mapstructure:"tokenmaxusages"`
	CaptcherRPM       int           `mapstructure:"captcherrpm"`
	CaptcherBurst     int           `mapstructure:"captcherburst"`
}

func def() Config {
	return Config{
		Port:           "8080",
		Databases:      map[string]string{},
		APIKeyStyle:    "X-API-KEY",
		CORSOrigin:     "*",
		LogLevel:       "info",
		TokenTTL:       15 * time.Minute,
		TokenMaxUsages: 10,
		CaptcherRPM:    30,
		CaptcherBurst:  10,
	}
}

func setDefaults(v *viper.Viper) {
	d := def()
	v.SetDefault("port", d.Port)
	v.SetDefault("registry", d.Registry)
	v.SetDefault("apikeystyle", d.APIKeyStyle)
	v.SetDefault("corsorigin", d.CORSOrigin)
	v.SetDefault("loglevel", d.LogLevel)
	v.SetDefault("logdev", d.LogDev)
	v.SetDefault("automigrate", d.AutoMigrate)
	v.SetDefault("strict", d.Strict)
	v.SetDefault("allowunregistered", d.AllowUnregistered)
	v.SetDefault("tokenttl", d.TokenTTL)
	v.SetDefault("tokenmaxusages", d.TokenMaxUsages)
	v.SetDefault("captcherrpm", d.CaptcherRPM)
	v.SetDefault("captcherburst", d.CaptcherBurst)
}

// Flags — флаги сервера; имена совпадают с ключами конфига.
func Flags(fs *pflag.FlagSet) {
	d := def()
	fs.String("config", "", "Path to config file (yaml/json)")
	fs.String("port", d.Port, "HTTP port")
	fs.String("registry", d.Registry, "Registry YAML file or directory (empty = built-in)")
	fs.String("apikey", "", "API key required on /api routes (empty = no auth)")
	fs.String("apikeystyle", d.APIKeyStyle, "API key header: X-API-KEY, API-KEY or Authorization")
	fs.String("corsorigin", d.CORSOrigin, "Access-Control-Allow-Origin")
	fs.String("loglevel", d.LogLevel, "debug|info|warn|error")
	fs.Bool("logdev", d.LogDev, "Development (console) logging")
	fs.Bool("automigrate", d.AutoMigrate, "Create registry tables on start")
	fs.Bool("strict", d.Strict, "Reject malformed criteria instead of dropping them")
	fs.Bool("allowunregistered", d.AllowUnregistered, "Allow tables that are not in the registry")
	fs.StringToString("databases", nil, "Database key=url pairs")
	fs.String("jwtprivatekey", "", "Captcher RS256 private key PEM path")
	fs.String("jwtpublickey", "", "Captcher RS256 public key PEM path")
	fs.Duration("tokenttl", d.TokenTTL, "Captcher token lifetime")
	fs.Int64("tokenmaxusages", d.TokenMaxUsages, "Captcher token max usages")
	fs.Int("captcherrpm", d.CaptcherRPM, "Captcher requests per minute per IP")
	fs.Int("captcherburst", d.CaptcherBurst, "Captcher burst per IP")
}

// Load: дефолты -> файл -> ENV (DATAMAN_*) -> флаги. fs может быть nil.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	path := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			path = strings.TrimSpace(f.Value.String())
		}
	}
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("dataman")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	applyEnv(v, os.Environ())

	if fs != nil {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || !f.Changed {
				return
			}
			if f.Name == "databases" {
				if m, err := fs.GetStringToString("databases"); err == nil {
					for k, url := range m {
						v.Set("databases."+strings.ToLower(k), url)
					}
				}
				return
			}
			_ = v.BindPFlag(f.Name, f)
		})
	}

	cfg := def()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Port = strings.TrimSpace(cfg.Port)
	return cfg, nil
}

// applyEnv: DATAMAN_LOGLEVEL -> loglevel, DATAMAN_DATABASES_TOKENS -> databases.tokens.
func applyEnv(v *viper.Viper, environ []string) {
	for _, kv := range environ {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(pair[0], EnvPrefix))
		if key == "" || key == "config" || strings.TrimSpace(pair[1]) == "" {
			continue
		}
		if db, ok := strings.CutPrefix(key, "databases_"); ok {
			v.Set("databases."+db, pair[1])
			continue
		}
		v.Set(strings.ReplaceAll(key, "_", ""), pair[1])
	}
}

// CaptcherEnabled — оба ключа заданы.
func (c Config) CaptcherEnabled() bool {
	return c.JWTPrivateKeyPath != "" && c.JWTPublicKeyPath != ""
}
