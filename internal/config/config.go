package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Miner struct {
		MinSampleSize      int     `yaml:"min_sample_size"`
		MinCooccurrence    float64 `yaml:"min_cooccurrence_rate"`
		PatternConfidence  float64 `yaml:"pattern_confidence"`
		RefreshIntervalMin int64   `yaml:"refresh_interval_minutes"`
	} `yaml:"miner"`
	Rating struct {
		MinTrainingSamples   int     `yaml:"min_training_samples"`
		MinPairCount         int     `yaml:"min_pair_count"`
		DefaultThreshold     float64 `yaml:"default_threshold"`
		PairWeightMultiplier float64 `yaml:"pair_weight_multiplier"`
	} `yaml:"rating"`
	Tasks struct {
		Workers   int `yaml:"workers"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"tasks"`
	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
}

// LoadConfig reads configuration from the specified YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Miner.MinSampleSize <= 0 {
		c.Miner.MinSampleSize = 10
	}
	if c.Miner.MinCooccurrence <= 0 {
		c.Miner.MinCooccurrence = 0.85
	}
	if c.Miner.PatternConfidence <= 0 {
		c.Miner.PatternConfidence = 0.92
	}
	if c.Miner.RefreshIntervalMin <= 0 {
		c.Miner.RefreshIntervalMin = 30
	}
	if c.Rating.MinTrainingSamples <= 0 {
		c.Rating.MinTrainingSamples = 50
	}
	if c.Rating.MinPairCount <= 0 {
		c.Rating.MinPairCount = 5
	}
	if c.Rating.DefaultThreshold <= 0 {
		c.Rating.DefaultThreshold = 0.5
	}
	if c.Tasks.Workers <= 0 {
		c.Tasks.Workers = 2
	}
	if c.Tasks.QueueSize <= 0 {
		c.Tasks.QueueSize = 100
	}
}
