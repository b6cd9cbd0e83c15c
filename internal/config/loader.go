package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and defaults.
// An empty path searches the usual locations.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tunneld/")
	}

	v.SetEnvPrefix("TUNNELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.ring_lines", 300)

	v.SetDefault("paths.base_dir", "/var/lib/tunneld")
	v.SetDefault("paths.temp_dir", "/var/lib/tunneld/tmp")
	v.SetDefault("paths.log_file", "/var/lib/tunneld/tunneld.log")

	v.SetDefault("database.path", "/var/lib/tunneld/tunneld.db")

	v.SetDefault("command.socket_path", "/var/run/tunneld.sock")
	v.SetDefault("command.listen", "")
	v.SetDefault("command.auth.issuer", "tunneld")
	v.SetDefault("command.auth.session_ttl", "1h")
	v.SetDefault("command.auth.bcrypt_cost", 12)

	v.SetDefault("engine.binary", "sing-box")
	v.SetDefault("engine.stop_timeout", "5s")

	v.SetDefault("jobs.profile_refresh_spec", "@every 1h")
	v.SetDefault("jobs.temp_sweep_spec", "@daily")
	v.SetDefault("jobs.temp_max_age", "24h")
	v.SetDefault("jobs.fetch_timeout", "30s")
}
