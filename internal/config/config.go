package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Control  ControlConfig  `mapstructure:"control"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
}

type StorageConfig struct {
	Directory string `mapstructure:"directory"`
}

type CaptureConfig struct {
	// MoveThreshold is the Euclidean distance in pixels a mouse move must
	// exceed before it is sampled.
	MoveThreshold float64 `mapstructure:"move_threshold"`
	BatchRows     int     `mapstructure:"batch_rows"`
}

type RecorderConfig struct {
	FPS        int    `mapstructure:"fps"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`
}

type ControlConfig struct {
	Port int `mapstructure:"port"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// Look for config in common locations
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".fulcrum"))
	}

	// Set defaults
	viper.SetDefault("server.address", "http://localhost:8080")
	viper.SetDefault("server.token", "")
	viper.SetDefault("storage.directory", "./tracker_data")
	viper.SetDefault("capture.move_threshold", 10.0)
	viper.SetDefault("capture.batch_rows", 250)
	viper.SetDefault("recorder.fps", 15)
	viper.SetDefault("recorder.ffmpeg_path", "ffmpeg")
	viper.SetDefault("control.port", 5001)

	// Read from environment variables (with priority)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("FULCRUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Allow environment variable overrides
	if addr := os.Getenv("FULCRUM_SERVER_ADDR"); addr != "" {
		viper.Set("server.address", addr)
	}
	if token := os.Getenv("FULCRUM_SERVER_TOKEN"); token != "" {
		viper.Set("server.token", token)
	}
	if dir := os.Getenv("FULCRUM_DATA_DIR"); dir != "" {
		viper.Set("storage.directory", dir)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
