package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string
	UserAgent string

	RequestTimeout time.Duration
	PlanBudget     time.Duration
	StepCeiling    time.Duration

	GitHubEndpoint    string
	GitHubToken       string
	GitLabBaseURL     string
	GitLabToken       string
	BitbucketBaseURL  string
	BitbucketUsername string
	BitbucketPassword string
	WebSearchEndpoint string
	ProviderProxyURL  string

	RedisURL string
	MongoURI string
	MongoDB  string

	LearningEnabled bool
	VariantsEnabled bool

	ProbeConcurrency int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8091"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent: getEnv("SCAN_USER_AGENT", "iptv-scan-service/1.0"),

		RequestTimeout: time.Duration(getEnvInt("SCAN_CALL_TIMEOUT_SECONDS", 20)) * time.Second,
		PlanBudget:     time.Duration(getEnvInt("SCAN_PLAN_BUDGET_SECONDS", 300)) * time.Second,
		StepCeiling:    time.Duration(getEnvInt("SCAN_STEP_CEILING_SECONDS", 45)) * time.Second,

		GitHubEndpoint:    getEnv("SCAN_PROVIDER_GITHUB_ENDPOINT", "https://api.github.com/search/code"),
		GitHubToken:       strings.TrimSpace(os.Getenv("GITHUB_TOKEN")),
		GitLabBaseURL:     getEnv("SCAN_PROVIDER_GITLAB_BASE_URL", "https://gitlab.com"),
		GitLabToken:       strings.TrimSpace(os.Getenv("GITLAB_TOKEN")),
		BitbucketBaseURL:  getEnv("SCAN_PROVIDER_BITBUCKET_BASE_URL", "https://api.bitbucket.org/2.0"),
		BitbucketUsername: strings.TrimSpace(os.Getenv("BITBUCKET_USERNAME")),
		BitbucketPassword: strings.TrimSpace(os.Getenv("BITBUCKET_APP_PASSWORD")),
		WebSearchEndpoint: getEnv("SCAN_WEBSEARCH_ENDPOINT", ""),
		ProviderProxyURL:  getEnv("SCAN_PROVIDER_PROXY", ""),

		RedisURL: getEnv("REDIS_URL", ""),
		MongoURI: getEnv("MONGO_URI", ""),
		MongoDB:  getEnv("MONGO_DB", "iptvscan"),

		LearningEnabled: getEnvBool("SCAN_LEARNING_ENABLED", true),
		VariantsEnabled: getEnvBool("SCAN_VARIANTS_ENABLED", true),

		ProbeConcurrency: getEnvInt("PROBE_MAX_CONCURRENCY", 20),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
