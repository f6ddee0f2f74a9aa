package common

// Environment variable keys
const (
	EnvConfigFile     = "CONFIG_FILE"
	EnvDataPath       = "DATA_PATH"
	EnvModelDir       = "MODEL_DIR"
	EnvModelName      = "MODEL_NAME"
	EnvVocabulary     = "VOCABULARY"
	EnvEpochs         = "EPOCHS"
	EnvBatchSize      = "BATCH_SIZE"
	EnvShuffle        = "SHUFFLE"
	EnvSeed           = "SEED"
	EnvLearningRate   = "LEARNING_RATE"
	EnvFruitWeight    = "FRUIT_LOSS_WEIGHT"
	EnvToxicityWeight = "TOXICITY_LOSS_WEIGHT"
	EnvBaseFilters    = "BASE_FILTERS"
	EnvHiddenUnits    = "HIDDEN_UNITS"
	EnvDropoutRate    = "DROPOUT_RATE"
	EnvListenAddr     = "LISTEN_ADDR"
	EnvServerURL      = "SERVER_URL"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvMaxUploadBytes = "MAX_UPLOAD_BYTES"
	EnvLogLevel       = "LOG_LEVEL"
	EnvPredictRPS     = "PREDICT_RPS"
	EnvDatasetRoot    = "DATASET_ROOT"
)

// Configuration defaults
const (
	DefaultDataPath       = "data"
	DefaultModelDir       = "models"
	DefaultModelName      = "toxic-detection-model"
	DefaultEpochs         = 10
	DefaultBatchSize      = 32
	DefaultLearningRate   = 0.001
	DefaultBaseFilters    = 32
	DefaultHiddenUnits    = 256
	DefaultDropoutRate    = 0.5
	DefaultListenAddr     = ":8080"
	DefaultServerURL      = "http://localhost:8080"
	DefaultMaxUploadBytes = 10 << 20 // 10 MiB
	DefaultLogLevel       = "info"
	DefaultDatasetRoot    = "datasets"
)

// Validation constants
const (
	MaxEpochs          = 1000
	MaxBatchSize       = 4096
	MaxLearningRate    = 1.0
	MaxBaseFilters     = 256
	MaxHiddenUnits     = 4096
	MaxDropoutRate     = 0.95
	MinRequestTimeout  = 1   // seconds
	MaxRequestTimeout  = 600 // seconds
	MaxUploadBytesHigh = 100 << 20
	MaxPredictRPS      = 10000
)

// HTTP route paths shared by server and client
const (
	RouteHealth  = "/health"
	RoutePredict = "/predict"
	RouteTrain   = "/train"
	RouteMetrics = "/metrics"

	// Multipart form field carrying the uploaded image
	ImageField = "image"
)
