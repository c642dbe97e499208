package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const applicationName = "chatsync"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   applicationName,
	Short: "Terminal client for the chat backend",
	Long: `chatsync keeps a live STOMP connection to the chat backend, shows
conversations with unread counts and typing indicators, and sends messages
with a REST fallback when the live channel is down.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/chatsync/config.yaml)")
	rootCmd.PersistentFlags().String("api-url", "", "REST base URL of the chat backend")
	rootCmd.PersistentFlags().String("ws-url", "", "Websocket URL of the chat backend")
	rootCmd.PersistentFlags().String("token", "", "Bearer token")
	rootCmd.PersistentFlags().String("lang", "", "Language code for assistant replies")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	for _, name := range []string{"api-url", "ws-url", "token", "lang", "log-level"} {
		cobra.CheckErr(viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), rootCmd.PersistentFlags().Lookup(name)))
	}
}

// envKeys maps config file keys to the environment variables config.Load reads.
var envKeys = map[string]string{
	"api_url":            "CHAT_API_URL",
	"ws_url":             "CHAT_WS_URL",
	"token":              "CHAT_TOKEN",
	"lang":               "CHAT_LANGUAGE",
	"log_level":          "LOG_LEVEL",
	"log_file":           "LOG_FILE",
	"reconnect_delay":    "RECONNECT_DELAY",
	"heartbeat_interval": "HEARTBEAT_INTERVAL",
	"auto_mark_read":     "AUTO_MARK_READ",
	"metrics_addr":       "METRICS_ADDR",
}

func configDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Clean(filepath.Join(configHome, applicationName))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Silently ignore missing config file
	_ = viper.ReadInConfig()

	bridgeEnv()
}

// bridgeEnv exports config file and flag values so config.Load sees them.
// Variables already set in the environment win over the config file, flags
// win over both.
func bridgeEnv() {
	for key, env := range envKeys {
		value := viper.GetString(key)
		if value == "" {
			continue
		}
		flag := rootCmd.PersistentFlags().Lookup(strings.ReplaceAll(key, "_", "-"))
		if _, set := os.LookupEnv(env); set && (flag == nil || !flag.Changed) {
			continue
		}
		_ = os.Setenv(env, value)
	}
}
