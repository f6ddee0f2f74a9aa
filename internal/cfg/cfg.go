package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fruitscan/internal/common"
	"fruitscan/internal/model"
	"fruitscan/internal/training"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	DataPath       string
	ModelDir       string
	ModelName      string
	Vocabulary     []string
	BaseFilters    int
	HiddenUnits    int
	DropoutRate    float64
	Epochs         int
	BatchSize      int
	Shuffle        bool
	Seed           int64
	LearningRate   float64
	LossWeights    model.LossWeights
	ListenAddr     string
	ServerURL      string
	RequestTimeout time.Duration
	MaxUploadBytes int64
	PredictRPS     float64
	DatasetRoot    string
	LogLevel       string
}

type ConfigFile struct {
	Storage struct {
		DataPath  string `yaml:"dataPath"`
		ModelDir  string `yaml:"modelDir"`
		ModelName string `yaml:"modelName"`
	} `yaml:"storage"`

	Model struct {
		Vocabulary  []string `yaml:"vocabulary"`
		BaseFilters int      `yaml:"baseFilters"`
		HiddenUnits int      `yaml:"hiddenUnits"`
		DropoutRate float64  `yaml:"dropoutRate"`
	} `yaml:"model"`

	Training struct {
		Epochs       int               `yaml:"epochs"`
		BatchSize    int               `yaml:"batchSize"`
		Shuffle      bool              `yaml:"shuffle"`
		Seed         int64             `yaml:"seed"`
		LearningRate float64           `yaml:"learningRate"`
		LossWeights  model.LossWeights `yaml:"lossWeights"`
	} `yaml:"training"`

	Server struct {
		ListenAddr     string  `yaml:"listenAddr"`
		URL            string  `yaml:"url"`
		RequestTimeout string  `yaml:"requestTimeout"`
		MaxUploadBytes int64   `yaml:"maxUploadBytes"`
		PredictRPS     float64 `yaml:"predictRPS"`
		DatasetRoot    string  `yaml:"datasetRoot"`
	} `yaml:"server"`

	LogLevel string `yaml:"logLevel"`
}

// Load reads settings from the YAML file named by CONFIG_FILE, with
// environment overrides, or from the environment alone.
func Load() (Settings, error) {
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	requestTimeout, err := time.ParseDuration(config.Server.RequestTimeout)
	if err != nil {
		requestTimeout = 30 * time.Second
	}

	settings := Settings{
		DataPath:       getEnvOrDefault(common.EnvDataPath, orDefault(config.Storage.DataPath, common.DefaultDataPath)),
		ModelDir:       getEnvOrDefault(common.EnvModelDir, orDefault(config.Storage.ModelDir, common.DefaultModelDir)),
		ModelName:      getEnvOrDefault(common.EnvModelName, orDefault(config.Storage.ModelName, common.DefaultModelName)),
		Vocabulary:     getVocabularyFromEnvOrConfig(config.Model.Vocabulary),
		BaseFilters:    getIntFromEnvOrConfig(common.EnvBaseFilters, config.Model.BaseFilters, common.DefaultBaseFilters),
		HiddenUnits:    getIntFromEnvOrConfig(common.EnvHiddenUnits, config.Model.HiddenUnits, common.DefaultHiddenUnits),
		DropoutRate:    getFloatFromEnvOrConfig(common.EnvDropoutRate, config.Model.DropoutRate, common.DefaultDropoutRate),
		Epochs:         getIntFromEnvOrConfig(common.EnvEpochs, config.Training.Epochs, common.DefaultEpochs),
		BatchSize:      getIntFromEnvOrConfig(common.EnvBatchSize, config.Training.BatchSize, common.DefaultBatchSize),
		Shuffle:        getBoolFromEnvOrConfig(common.EnvShuffle, config.Training.Shuffle),
		Seed:           int64(getIntFromEnvOrConfig(common.EnvSeed, int(config.Training.Seed), 0)),
		LearningRate:   getFloatFromEnvOrConfig(common.EnvLearningRate, config.Training.LearningRate, common.DefaultLearningRate),
		ListenAddr:     getEnvOrDefault(common.EnvListenAddr, orDefault(config.Server.ListenAddr, common.DefaultListenAddr)),
		ServerURL:      getEnvOrDefault(common.EnvServerURL, orDefault(config.Server.URL, common.DefaultServerURL)),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
		MaxUploadBytes: int64(getIntFromEnvOrConfig(common.EnvMaxUploadBytes, int(config.Server.MaxUploadBytes), common.DefaultMaxUploadBytes)),
		PredictRPS:     getFloatFromEnvOrConfig(common.EnvPredictRPS, config.Server.PredictRPS, 0),
		DatasetRoot:    getEnvOrDefault(common.EnvDatasetRoot, orDefault(config.Server.DatasetRoot, common.DefaultDatasetRoot)),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orDefault(config.LogLevel, common.DefaultLogLevel)),
	}
	settings.LossWeights = model.LossWeights{
		FruitType: getFloatFromEnvOrConfig(common.EnvFruitWeight, config.Training.LossWeights.FruitType, model.DefaultLossWeights.FruitType),
		Toxicity:  getFloatFromEnvOrConfig(common.EnvToxicityWeight, config.Training.LossWeights.Toxicity, model.DefaultLossWeights.Toxicity),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		DataPath:     getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		ModelDir:     getEnvOrDefault(common.EnvModelDir, common.DefaultModelDir),
		ModelName:    getEnvOrDefault(common.EnvModelName, common.DefaultModelName),
		Vocabulary:   getVocabularyFromEnvOrConfig(nil),
		BaseFilters:  getIntOrDefault(common.EnvBaseFilters, common.DefaultBaseFilters),
		HiddenUnits:  getIntOrDefault(common.EnvHiddenUnits, common.DefaultHiddenUnits),
		DropoutRate:  getFloatOrDefault(common.EnvDropoutRate, common.DefaultDropoutRate),
		Epochs:       getIntOrDefault(common.EnvEpochs, common.DefaultEpochs),
		BatchSize:    getIntOrDefault(common.EnvBatchSize, common.DefaultBatchSize),
		Shuffle:      getBoolOrDefault(common.EnvShuffle, false),
		Seed:         int64(getIntOrDefault(common.EnvSeed, 0)),
		LearningRate: getFloatOrDefault(common.EnvLearningRate, common.DefaultLearningRate),
		LossWeights: model.LossWeights{
			FruitType: getFloatOrDefault(common.EnvFruitWeight, model.DefaultLossWeights.FruitType),
			Toxicity:  getFloatOrDefault(common.EnvToxicityWeight, model.DefaultLossWeights.Toxicity),
		},
		ListenAddr:     getEnvOrDefault(common.EnvListenAddr, common.DefaultListenAddr),
		ServerURL:      getEnvOrDefault(common.EnvServerURL, common.DefaultServerURL),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, 30*time.Second),
		MaxUploadBytes: int64(getIntOrDefault(common.EnvMaxUploadBytes, common.DefaultMaxUploadBytes)),
		PredictRPS:     getFloatOrDefault(common.EnvPredictRPS, 0),
		DatasetRoot:    getEnvOrDefault(common.EnvDatasetRoot, common.DefaultDatasetRoot),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// ArchConfig returns the default architecture with the configured widths.
func (s *Settings) ArchConfig() model.ArchConfig {
	c := model.DefaultArchConfig()
	c.BaseFilters = s.BaseFilters
	c.HiddenUnits = s.HiddenUnits
	c.DropoutRate = s.DropoutRate
	return c
}

// TrainingConfig returns the configured training run parameters.
func (s *Settings) TrainingConfig() training.Config {
	return training.Config{
		Epochs:       s.Epochs,
		BatchSize:    s.BatchSize,
		Shuffle:      s.Shuffle,
		Seed:         s.Seed,
		LearningRate: s.LearningRate,
		LossWeights:  s.LossWeights,
	}
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getVocabularyFromEnvOrConfig(configVocab []string) []string {
	if env := os.Getenv(common.EnvVocabulary); env != "" {
		var vocab []string
		for _, label := range strings.Split(env, ",") {
			if label = strings.ToLower(strings.TrimSpace(label)); label != "" {
				vocab = append(vocab, label)
			}
		}
		return vocab
	}
	if len(configVocab) > 0 {
		return configVocab
	}
	return append([]string(nil), model.DefaultVocabulary...)
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs range validation of configuration values
func validateSettings(settings *Settings) error {
	// Storage
	if settings.DataPath == "" || settings.ModelDir == "" {
		return fmt.Errorf("data path and model dir are required")
	}
	if settings.ModelName == "" || strings.ContainsAny(settings.ModelName, `/\`) {
		return fmt.Errorf("model name must be a non-empty name without path separators, got %q", settings.ModelName)
	}

	// Model
	if err := model.Vocabulary(settings.Vocabulary).Validate(); err != nil {
		return fmt.Errorf("vocabulary: %w", err)
	}
	if settings.BaseFilters <= 0 || settings.BaseFilters > common.MaxBaseFilters {
		return fmt.Errorf("base filters must be between 1 and %d, got %d", common.MaxBaseFilters, settings.BaseFilters)
	}
	if settings.HiddenUnits <= 0 || settings.HiddenUnits > common.MaxHiddenUnits {
		return fmt.Errorf("hidden units must be between 1 and %d, got %d", common.MaxHiddenUnits, settings.HiddenUnits)
	}
	if settings.DropoutRate < 0 || settings.DropoutRate > common.MaxDropoutRate {
		return fmt.Errorf("dropout rate must be between 0 and %.2f, got %f", common.MaxDropoutRate, settings.DropoutRate)
	}

	// Training
	if settings.Epochs <= 0 || settings.Epochs > common.MaxEpochs {
		return fmt.Errorf("epochs must be between 1 and %d, got %d", common.MaxEpochs, settings.Epochs)
	}
	if settings.BatchSize <= 0 || settings.BatchSize > common.MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d, got %d", common.MaxBatchSize, settings.BatchSize)
	}
	if settings.LearningRate <= 0 || settings.LearningRate > common.MaxLearningRate {
		return fmt.Errorf("learning rate must be between 0 and %.1f, got %f", common.MaxLearningRate, settings.LearningRate)
	}
	if settings.LossWeights.FruitType < 0 || settings.LossWeights.Toxicity < 0 {
		return fmt.Errorf("loss weights must be non-negative, got %+v", settings.LossWeights)
	}
	if settings.LossWeights.FruitType == 0 && settings.LossWeights.Toxicity == 0 {
		return fmt.Errorf("at least one loss weight must be positive")
	}

	// Server
	if settings.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if settings.ServerURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}
	if settings.RequestTimeout < common.MinRequestTimeout*time.Second || settings.RequestTimeout > common.MaxRequestTimeout*time.Second {
		return fmt.Errorf("request timeout must be between %ds and %ds, got %v", common.MinRequestTimeout, common.MaxRequestTimeout, settings.RequestTimeout)
	}
	if settings.MaxUploadBytes <= 0 || settings.MaxUploadBytes > common.MaxUploadBytesHigh {
		return fmt.Errorf("max upload bytes must be between 1 and %d, got %d", common.MaxUploadBytesHigh, settings.MaxUploadBytes)
	}

	if settings.PredictRPS < 0 || settings.PredictRPS > common.MaxPredictRPS {
		return fmt.Errorf("predict rate limit must be between 0 and %d, got %f", common.MaxPredictRPS, settings.PredictRPS)
	}

	switch strings.ToLower(settings.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", settings.LogLevel)
	}

	return nil
}
