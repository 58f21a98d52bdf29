package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type SynapseConfig struct {
	AuthEndpoint string `mapstructure:"auth_endpoint"`
	RepoEndpoint string `mapstructure:"repo_endpoint"`
	FileEndpoint string `mapstructure:"file_endpoint"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	AuthToken    string `mapstructure:"auth_token"`
	RetryCount   int    `mapstructure:"retry_count"`
}

type Config struct {
	Dir               string        `mapstructure:"-"`
	WorkDir           string        `mapstructure:"work_dir"`
	DBPath            string        `mapstructure:"db_path"`
	LogFile           string        `mapstructure:"log_file"`
	LogLevel          string        `mapstructure:"log_level"`
	Store             string        `mapstructure:"store"`
	Threads           int           `mapstructure:"threads"`
	SkipHashChecks    bool          `mapstructure:"skip_hash_checks"`
	SkipEmptyFiles    bool          `mapstructure:"skip_empty_files"`
	ProjectPrefix     string        `mapstructure:"project_prefix"`
	AdminTeamID       string        `mapstructure:"admin_team_id"`
	StorageLocationID string        `mapstructure:"storage_location_id"`
	IgnoreList        []string      `mapstructure:"ignore_list"`
	GitToken          string        `mapstructure:"git_token"`
	ServeAddr         string        `mapstructure:"serve_addr"`
	Synapse           SynapseConfig `mapstructure:"synapse"`
}

const (
	StoreSynapse = "synapse"
	StoreGDrive  = "gdrive"
)

var Default = Config{
	WorkDir:        filepath.Join("~", "tmp", "ghap"),
	DBPath:         "synmigrate.db",
	LogFile:        "log.txt",
	LogLevel:       "info",
	Store:          StoreSynapse,
	Threads:        1,
	SkipEmptyFiles: true,
	ProjectPrefix:  "GHAP",
	IgnoreList:     []string{".git/", "*.gitlog"},
	ServeAddr:      ":9010",
	Synapse: SynapseConfig{
		AuthEndpoint: "https://repo-prod.prod.sagebase.org/auth/v1",
		RepoEndpoint: "https://repo-prod.prod.sagebase.org/repo/v1",
		FileEndpoint: "https://repo-prod.prod.sagebase.org/file/v1",
		RetryCount:   4,
	},
}

// Dir returns ~/.synmigrate, creating it when missing.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}

	dir := filepath.Join(home, ".synmigrate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}

	return dir, nil
}

func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	// a missing .env is the normal case
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)

	viper.SetDefault("work_dir", Default.WorkDir)
	viper.SetDefault("db_path", filepath.Join(configDir, Default.DBPath))
	viper.SetDefault("log_file", Default.LogFile)
	viper.SetDefault("log_level", Default.LogLevel)
	viper.SetDefault("store", Default.Store)
	viper.SetDefault("threads", Default.Threads)
	viper.SetDefault("skip_hash_checks", Default.SkipHashChecks)
	viper.SetDefault("skip_empty_files", Default.SkipEmptyFiles)
	viper.SetDefault("project_prefix", Default.ProjectPrefix)
	viper.SetDefault("ignore_list", Default.IgnoreList)
	viper.SetDefault("serve_addr", Default.ServeAddr)
	viper.SetDefault("synapse.auth_endpoint", Default.Synapse.AuthEndpoint)
	viper.SetDefault("synapse.repo_endpoint", Default.Synapse.RepoEndpoint)
	viper.SetDefault("synapse.file_endpoint", Default.Synapse.FileEndpoint)
	viper.SetDefault("synapse.retry_count", Default.Synapse.RetryCount)

	viper.SetEnvPrefix("SYNMIGRATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// the bare SYNAPSE_* names are accepted too
	_ = viper.BindEnv("synapse.username", "SYNMIGRATE_SYNAPSE_USERNAME", "SYNAPSE_USERNAME")
	_ = viper.BindEnv("synapse.password", "SYNMIGRATE_SYNAPSE_PASSWORD", "SYNAPSE_PASSWORD")
	_ = viper.BindEnv("synapse.auth_token", "SYNMIGRATE_SYNAPSE_AUTH_TOKEN", "SYNAPSE_AUTH_TOKEN")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Dir = configDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreSynapse, StoreGDrive:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreSynapse, StoreGDrive)
	}

	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", c.Threads)
	}

	return nil
}
