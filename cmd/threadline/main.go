package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/threadline/cmd/threadline/cmds"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "threadline",
	Short: "threadline is a streaming chat client for multi-session conversations",
	// flags are parsed by now, so --config and --log-level are known
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := readConfig(viper.GetString("config")); err != nil {
			return err
		}
		if err := initLogger(); err != nil {
			return err
		}
		log.Debug().Str("config", viper.ConfigFileUsed()).Msg("Loaded configuration")
		return nil
	},
	SilenceUsage: true,
}

// clientFlags maps persistent flags onto nested settings keys.
var clientFlags = map[string]string{
	"base-url":   "client.base-url",
	"ask-path":   "client.ask-path",
	"timeout":    "client.timeout",
	"user-agent": "client.user-agent",
}

func readConfig(configPath string) error {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.threadline")
		viper.AddConfigPath("/etc/threadline")
		if xdgConfigPath, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(xdgConfigPath, "threadline"))
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	return errors.Wrap(err, "could not read config")
}

func bindFlags(cmd *cobra.Command) error {
	viper.SetEnvPrefix("threadline")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return err
	}
	for flag, key := range clientFlags {
		if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

func initLogger() error {
	level := viper.GetString("log-level")
	if viper.GetBool("verbose") && level != "trace" {
		level = "debug"
	}
	zerologLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "invalid --log-level")
	}
	if zerologLevel == zerolog.NoLevel {
		zerologLevel = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(zerologLevel)

	var logWriter io.Writer = os.Stderr
	if viper.GetString("log-format") == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if logFile := viper.GetString("log-file"); logFile != "" {
		fileWriter := zerolog.ConsoleWriter{
			NoColor: true,
			Out: &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			},
		}
		// the TUI owns the terminal, so logs only go to the file then
		if viper.GetBool("log-file-only") {
			logWriter = fileWriter
		} else {
			logWriter = io.MultiWriter(logWriter, fileWriter)
		}
	}

	logger := zerolog.New(logWriter).With().Timestamp()
	if viper.GetBool("with-caller") {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().Bool("log-file-only", false, "Only log to --log-file, not to stderr")

	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.threadline/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	// ask endpoint flags, also settable as client.* in the config file
	rootCmd.PersistentFlags().String("base-url", "http://localhost:49152", "Base URL of the chat server")
	rootCmd.PersistentFlags().String("ask-path", "/ask", "Path of the ask endpoint")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Timeout for a whole turn (0 = none)")
	rootCmd.PersistentFlags().String("user-agent", "", "User-Agent header sent with queries")

	cobra.CheckErr(bindFlags(rootCmd))

	rootCmd.AddCommand(
		cmds.NewAskCommand(),
		cmds.NewChatCommand(),
		cmds.NewReplayCommand(),
		cmds.NewConfigCommand(),
	)
}
