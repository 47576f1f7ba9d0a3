package config

// Defaults for the generative gateway and reasoning limits.
const (
	DefaultBaseURL          = "http://localhost:11434"
	DefaultModel            = "qwen3-vl:8b"
	DefaultTimeoutSeconds   = 120
	DefaultMaxRetries       = 1
	DefaultNumPredict       = 700
	DefaultMinDetailedChars = 260
	DefaultHistoryWindow    = 6
	DefaultMaxHistoryStore  = 30
	DefaultMaxSessions      = 200
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = "./data/uploads"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/db/ledger.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "./data/indices/vectors.bin"
	}
	if cfg.Vector.Dimensions == 0 {
		cfg.Vector.Dimensions = 512
	}
	if cfg.Vector.DefaultK == 0 {
		cfg.Vector.DefaultK = 5
	}
	if cfg.Extractor.TimeoutSeconds == 0 {
		cfg.Extractor.TimeoutSeconds = 120
	}
	if cfg.Extractor.CacheSize == 0 {
		cfg.Extractor.CacheSize = 256
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = DefaultBaseURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModel
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.LLM.MaxRetries == nil {
		r := DefaultMaxRetries
		cfg.LLM.MaxRetries = &r
	}
	if cfg.LLM.NumPredict == 0 {
		cfg.LLM.NumPredict = DefaultNumPredict
	}
	if cfg.Reasoning.MinDetailedChars == 0 {
		cfg.Reasoning.MinDetailedChars = DefaultMinDetailedChars
	}
	if cfg.Reasoning.HistoryWindow == 0 {
		cfg.Reasoning.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Reasoning.MaxHistoryStore == 0 {
		cfg.Reasoning.MaxHistoryStore = DefaultMaxHistoryStore
	}
	if cfg.Reasoning.MaxSessions == 0 {
		cfg.Reasoning.MaxSessions = DefaultMaxSessions
	}
	if cfg.RunLog.Path == "" {
		cfg.RunLog.Path = "./data/logs/runs.jsonl"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
