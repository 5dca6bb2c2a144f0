package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/snowflake-kv/sfdash/lib/credentials"
	"github.com/snowflake-kv/sfdash/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// settingKeys maps the dotted keys of a config file to the flag names
var settingKeys = map[string]string{
	"socket.host":                   "socket-host",
	"socket.port":                   "socket-port",
	"socket.secure":                 "socket-secure",
	"socket.timeout":                "socket-timeout",
	"access_key_expiration":         "access-key-expiration",
	"refresh_interval.used_heap":    "refresh-interval-used-heap",
	"refresh_interval.type_analyze": "refresh-interval-type-analyze",
}

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the socket connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "socket-host"
	cmd.PersistentFlags().String(key, common.DefaultHost, WrapString("Host of the Snowflake dashboard socket"))

	key = "socket-port"
	cmd.PersistentFlags().Int(key, common.DefaultPort, WrapString("Port of the Snowflake dashboard socket"))

	key = "socket-secure"
	cmd.PersistentFlags().Bool(key, false, WrapString("Connect with wss:// instead of ws://"))

	key = "socket-timeout"
	cmd.PersistentFlags().Int(key, common.DefaultTimeoutMillisecond, WrapString("Default timeout of a single request in milliseconds"))

	key = "access-key-expiration"
	cmd.PersistentFlags().Int(key, 0, WrapString("Seconds until a saved access key expires (0 = never)"))

	key = "refresh-interval-used-heap"
	cmd.PersistentFlags().Int(key, 0, WrapString("Poll interval of the heap monitor in milliseconds (0 = poll once)"))

	key = "refresh-interval-type-analyze"
	cmd.PersistentFlags().Int(key, 0, WrapString("Poll interval of the value type analysis in milliseconds (0 = poll once)"))

	key = "credentials-file"
	cmd.PersistentFlags().String(key, credentials.DefaultPath(), WrapString("File the access key is saved to"))
}

// InitClientConfig initializes configuration from env files, environment
// variables and an optional sfdash.{yaml,toml,json} config file
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("sfdash")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	viper.SetConfigName("sfdash")
	viper.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(dir, "sfdash"))
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "ignoring config file: %v\n", err)
		}
		return
	}

	// dotted keys of the config file rank below flags and environment
	for dotted, key := range settingKeys {
		if viper.InConfig(dotted) {
			viper.SetDefault(key, viper.Get(dotted))
		}
	}
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		Host:               viper.GetString("socket-host"),
		Port:               viper.GetInt("socket-port"),
		Secure:             viper.GetBool("socket-secure"),
		TimeoutMillisecond: viper.GetInt("socket-timeout"),
	}
}

// GetCredentialStore returns the store of the saved access key
func GetCredentialStore() *credentials.Store {
	path := viper.GetString("credentials-file")
	if path == "" {
		path = credentials.DefaultPath()
	}
	return credentials.NewStore(path)
}

// GetAccessKeyExpiration returns how long a saved access key stays valid (0 = never)
func GetAccessKeyExpiration() time.Duration {
	return time.Duration(viper.GetInt("access-key-expiration")) * time.Second
}

// GetRefreshInterval returns the poll interval of the given monitor
// ("used-heap" or "type-analyze"), 0 means poll once
func GetRefreshInterval(monitor string) time.Duration {
	return time.Duration(viper.GetInt("refresh-interval-"+monitor)) * time.Millisecond
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}
