package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/bus"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/cache"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/cybersponse"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/httpclient"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/observable"
)

var (
	cfgFile  string
	dbPath   string
	redisURL string
	logLevel string
	host     string
	username string
	password string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cybersponse-lookup",
	Short: "Look up observables against CyberSponse incidents",
	Long: `cybersponse-lookup queries a CyberSponse instance for incidents, indicators
and sightings related to observable values (IPs, domains, hashes, URLs, emails).

Features:
- Concurrent incident, indicator and workflow action lookups
- Bearer token reuse with automatic re-authentication
- One hour response cache, in memory or in Redis
- Workflow action invocation with a SQLite audit trail
- Redis Streams worker that enriches OCSF events`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cybersponse-lookup.yaml)")
	flags.StringVar(&host, "host", "", "CyberSponse base URL, e.g. https://cybersponse.example")
	flags.StringVar(&username, "username", "", "CyberSponse login id")
	flags.StringVar(&password, "password", "", "CyberSponse password")
	flags.StringVar(&dbPath, "db", "./data/cybersponse-lookup.db", "SQLite database path for the invocation audit log")
	flags.StringVar(&redisURL, "redis", "", "Redis connection URL for the event bus")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	viper.BindPFlag("cybersponse.host", flags.Lookup("host"))
	viper.BindPFlag("cybersponse.username", flags.Lookup("username"))
	viper.BindPFlag("cybersponse.password", flags.Lookup("password"))
	viper.BindPFlag("database.path", flags.Lookup("db"))
	viper.BindPFlag("redis.url", flags.Lookup("redis"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".cybersponse-lookup")
	}

	// CYBERSPONSE_CYBERSPONSE_HOST, CYBERSPONSE_REQUEST_PROXY, ...
	viper.SetEnvPrefix("cybersponse")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "./data/cybersponse-lookup.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("request.reject_unauthorized", true)
	v.SetDefault("request.timeout", 30*time.Second)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.prefix", "cybersponse:cache:")
	v.SetDefault("serve.group", "cybersponse")
	v.SetDefault("serve.consumer", "cybersponse-1")
	v.SetDefault("serve.redeliver_interval", bus.DefaultRedeliverInterval)
	v.SetDefault("serve.max_deliveries", bus.DefaultMaxDeliveries)
	for _, kind := range []string{"ips", "domains", "hashes", "urls", "emails"} {
		v.SetDefault("serve.observables."+kind, true)
	}
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	return configFrom(viper.GetViper())
}

func configFrom(v *viper.Viper) Config {
	reject := v.GetBool("request.reject_unauthorized")

	return Config{
		CyberSponse: cybersponse.Options{
			Host:     v.GetString("cybersponse.host"),
			Username: v.GetString("cybersponse.username"),
			Password: v.GetString("cybersponse.password"),
		},
		Request: httpclient.Options{
			Cert:               v.GetString("request.cert"),
			Key:                v.GetString("request.key"),
			Passphrase:         v.GetString("request.passphrase"),
			CA:                 v.GetString("request.ca"),
			Proxy:              v.GetString("request.proxy"),
			RejectUnauthorized: &reject,
			Timeout:            v.GetDuration("request.timeout"),
		},
		Cache: cache.Options{
			RedisURL:     v.GetString("cache.redis_url"),
			Prefix:       v.GetString("cache.prefix"),
			MaxEntries:   v.GetInt("cache.max_entries"),
			SingleFlight: v.GetBool("cache.single_flight"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis.url"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
		Serve: ServeConfig{
			Group:             v.GetString("serve.group"),
			Consumer:          v.GetString("serve.consumer"),
			RedeliverInterval: v.GetDuration("serve.redeliver_interval"),
			MaxDeliveries:     v.GetInt("serve.max_deliveries"),
			Observables: observable.Types{
				IPs:     v.GetBool("serve.observables.ips"),
				Domains: v.GetBool("serve.observables.domains"),
				Hashes:  v.GetBool("serve.observables.hashes"),
				URLs:    v.GetBool("serve.observables.urls"),
				Emails:  v.GetBool("serve.observables.emails"),
			},
		},
	}
}

// Config represents the application configuration
type Config struct {
	CyberSponse cybersponse.Options
	Request     httpclient.Options
	Cache       cache.Options
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	Serve       ServeConfig
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServeConfig struct {
	Group             string           `mapstructure:"group"`
	Consumer          string           `mapstructure:"consumer"`
	RedeliverInterval time.Duration    `mapstructure:"redeliver_interval"`
	MaxDeliveries     int              `mapstructure:"max_deliveries"`
	Observables       observable.Types `mapstructure:"observables"`
}

// newLogger writes leveled logs to stderr so stdout stays machine readable.
func newLogger(cfg Config, component string) logging.Logger {
	return logging.New(os.Stderr, "["+component+"] ", logging.ParseLevel(cfg.Log.Level))
}

// startService validates the lookup options and builds the integration.
func startService(cfg Config, logger logging.Logger) (*cybersponse.Service, error) {
	if errs := cybersponse.ValidateOptions(cfg.CyberSponse); len(errs) > 0 {
		return nil, fmt.Errorf("invalid options: %w", errs[0])
	}
	return cybersponse.Startup(cybersponse.Config{Request: cfg.Request, Cache: cfg.Cache}, logger)
}
