package llm

import (
	"time"

	"github.com/trofimovm/telegram-lead-monitor/pkg/config"
)

type Config struct {
	APIURL    string
	APIKey    string
	Model     string
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
}

func LoadConfig() Config {
	return Config{
		APIURL:    config.GetEnv("LM_API_URL", "https://api.openai.com"),
		APIKey:    config.GetEnv("LM_API_KEY", ""),
		Model:     config.GetEnv("LM_MODEL", "gpt-4o-mini"),
		Timeout:   config.GetEnvDuration("LM_TIMEOUT_SECONDS", time.Second, 30*time.Second),
		CacheTTL:  config.GetEnvDuration("LM_CACHE_TTL_MINUTES", time.Minute, time.Hour),
		CacheSize: config.GetEnvInt("LM_CACHE_MAX_ENTRIES", 4096),
	}
}
