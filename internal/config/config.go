// Package config resolves the settings of a netrun invocation from defaults,
// an optional config file, a .env file, NETRUN_* environment variables and
// command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/pascal71/netrun/client"
)

const EnvPrefix = "NETRUN"

// Defaults of the original one-shot flow.
const (
	DefaultDeviceKind = "cisco_ios"
	DefaultHost       = "192.168.1.1"
	DefaultUsername   = "admin"
	DefaultCommand    = "show ip interface brief"
	DefaultLogLevel   = "warn"
	DefaultEnvFile    = ".env"
)

// Config is the resolved configuration.
type Config struct {
	DeviceKind     string        `mapstructure:"device_kind"`
	Host           string        `mapstructure:"host"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Command        string        `mapstructure:"command"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	KeyFile        string        `mapstructure:"key_file"`
	KeyPassphrase  string        `mapstructure:"key_passphrase"`
	UseAgent       bool          `mapstructure:"use_agent"`
	KnownHosts     string        `mapstructure:"known_hosts"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFile        string        `mapstructure:"log_file"`
	Debug          bool          `mapstructure:"debug"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"kind":            "device_kind",
	"host":            "host",
	"user":            "username",
	"password":        "password",
	"command":         "command",
	"connect-timeout": "connect_timeout",
	"command-timeout": "command_timeout",
	"key":             "key_file",
	"passphrase":      "key_passphrase",
	"agent":           "use_agent",
	"known-hosts":     "known_hosts",
	"log-level":       "log_level",
	"log-file":        "log_file",
	"debug":           "debug",
}

// RegisterFlags adds the flags understood by Load to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("kind", "k", DefaultDeviceKind, "device kind: "+strings.Join(client.Kinds(), ", "))
	flags.StringP("host", "H", DefaultHost, "device address, optionally host:port")
	flags.StringP("user", "u", DefaultUsername, "SSH username")
	flags.StringP("password", "p", "", "SSH password (or set NETRUN_PASSWORD)")
	flags.StringP("command", "c", DefaultCommand, "command to run")
	flags.Duration("connect-timeout", client.DefaultConnectTimeout, "timeout for dial, login and first prompt")
	flags.Duration("command-timeout", client.DefaultCommandTimeout, "timeout waiting for the prompt after the command")
	flags.String("key", "", "path to an SSH private key")
	flags.String("passphrase", "", "private key passphrase (or set NETRUN_KEY_PASSPHRASE)")
	flags.Bool("agent", false, "also authenticate with keys from SSH_AUTH_SOCK")
	flags.String("known-hosts", "", "verify the host key against this known_hosts file")
	flags.String("log-level", DefaultLogLevel, "log level: debug, info, warn, error")
	flags.String("log-file", "", "also write JSON logs to this file")
	flags.Bool("debug", false, "print error stack traces")
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("env-file", DefaultEnvFile, "dotenv file with NETRUN_* variables, ignored if missing")
}

// Load resolves the configuration for flags registered with RegisterFlags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if envFile, _ := flags.GetString("env-file"); envFile != "" {
		if err := gotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	if path, _ := flags.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no session attempt can succeed with.
func (c *Config) Validate() error {
	if _, ok := client.LookupDialect(c.DeviceKind); !ok {
		return fmt.Errorf("unsupported device kind %q (supported: %s)", c.DeviceKind, strings.Join(client.Kinds(), ", "))
	}
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Username == "" {
		return errors.New("username is required")
	}
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("command is required")
	}
	return nil
}

// Descriptor returns the connection descriptor described by c.
func (c *Config) Descriptor() client.Descriptor {
	return client.Descriptor{
		DeviceKind: c.DeviceKind,
		Host:       c.Host,
		Username:   c.Username,
		Password:   c.Password,
	}
}

// ClientOptions translates the transport settings of c.
func (c *Config) ClientOptions() []client.Option {
	opts := []client.Option{
		client.WithConnectTimeout(c.ConnectTimeout),
		client.WithCommandTimeout(c.CommandTimeout),
	}
	if c.KeyFile != "" {
		opts = append(opts, client.WithKeyFile(c.KeyFile, c.KeyPassphrase))
	}
	if c.UseAgent {
		opts = append(opts, client.WithAgent())
	}
	if c.KnownHosts != "" {
		opts = append(opts, client.WithKnownHosts(c.KnownHosts))
	}
	return opts
}

// HasKeyAuth reports whether an authentication method other than the password is configured.
func (c *Config) HasKeyAuth() bool {
	return c.KeyFile != "" || (c.UseAgent && os.Getenv("SSH_AUTH_SOCK") != "")
}
