package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc reports the value of an environment variable; os.LookupEnv fits.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with environment variables. Unset or blank variables are
// ignored; a malformed number is an error naming the variable.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var firstErr error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s %q: must be an integer", key, v)
			}
			return
		}
		*dst = n
	}

	str("OLLAMA_BASE_URL", &cfg.LLM.BaseURL)
	str("OLLAMA_MODEL", &cfg.LLM.Model)
	num("OLLAMA_TIMEOUT_SECONDS", &cfg.LLM.TimeoutSeconds)
	if v, ok := lookup("OLLAMA_MAX_RETRIES"); ok && strings.TrimSpace(v) != "" {
		retries := 0
		num("OLLAMA_MAX_RETRIES", &retries)
		cfg.LLM.MaxRetries = &retries
	}
	num("OLLAMA_NUM_PREDICT", &cfg.LLM.NumPredict)
	num("REASON_MIN_DETAILED_CHARS", &cfg.Reasoning.MinDetailedChars)
	num("REASON_HISTORY_WINDOW", &cfg.Reasoning.HistoryWindow)
	num("REASON_MAX_HISTORY_STORE", &cfg.Reasoning.MaxHistoryStore)
	num("REASON_MAX_SESSIONS", &cfg.Reasoning.MaxSessions)
	str("RUN_LOG_PATH", &cfg.RunLog.Path)
	str("FEATURE_SERVICE_URL", &cfg.Extractor.URL)
	str("UPLOAD_FOLDER", &cfg.Server.UploadDir)
	return firstErr
}
