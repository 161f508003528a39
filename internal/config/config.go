package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	configData Config
	v          *viper.Viper
)

// flagKeys maps persistent flag names to configuration keys.
var flagKeys = map[string]string{
	"reader":       "reader.name",
	"reader-index": "reader.index",
	"can":          "card.can",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// Config holds all configuration settings.
type Config struct {
	// Reader selection
	Reader struct {
		Index int
		Name  string
	}
	// Card access
	Card struct {
		CAN string
	}
	// Logging configuration
	Log struct {
		Level  string
		Format string
	}
}

// Initialize reads cfgFile, or config.yaml from the search path when empty,
// on top of defaults and GOEID_* environment variables. Flags set on the
// command line take precedence over both.
func Initialize(cfgFile string, flags *pflag.FlagSet) error {
	v = viper.New()
	configData = Config{}

	// Set default values
	setDefaults()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Environment variables
	v.SetEnvPrefix("GOEID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.go_eid")
		v.AddConfigPath("/etc/go_eid/")

		// Create config file if it doesn't exist
		if err := ensureConfig(); err != nil {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	// Read in config file
	if err := v.ReadInConfig(); err != nil {
		// It's okay if we can't find a config file, we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(&configData); err != nil {
		return fmt.Errorf("unable to decode into config struct: %w", err)
	}

	return nil
}

func setDefaults() {
	v.SetDefault("reader.index", 0)
	v.SetDefault("reader.name", "")
	v.SetDefault("card.can", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "human")
}

// ensureConfig writes a default config file under $HOME/.go_eid.
func ensureConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".go_eid")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		defaultConfig := `# go_eid configuration file
reader:
  index: 0
  name: ""

# card access number printed on the card; leave empty to be prompted
card:
  can: ""

log:
  level: info
  format: human
`
		if err := os.WriteFile(configFile, []byte(defaultConfig), 0o600); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the current configuration.
func Get() *Config {
	return &configData
}
