package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL     string `envconfig:"CONVERSATION_TTL" default:"15m"`
	History struct {
		MaxTurns int `envconfig:"CONVERSATION_HISTORY_MAX_TURNS" default:"10"`
	}
}

type ClassifierConfig struct {
	// Comma-separated vocabularies checked as case-insensitive substrings.
	ArticleVocabulary string `envconfig:"CLASSIFIER_ARTICLE_VOCABULARY" default:"article,blog,post,paper,wrote about,published"`
	ListingVocabulary string `envconfig:"CLASSIFIER_LISTING_VOCABULARY" default:"repositories,repos,list my projects"`
	MinIdentifierLen  int    `envconfig:"CLASSIFIER_MIN_IDENTIFIER_LEN" default:"3"`
}

type DispatcherConfig struct {
	MaxRetries  int           `envconfig:"DISPATCH_MAX_RETRIES" default:"2"`
	BaseBackoff time.Duration `envconfig:"DISPATCH_BASE_BACKOFF" default:"500ms"`
	CallTimeout time.Duration `envconfig:"DISPATCH_CALL_TIMEOUT" default:"10s"`
	// Per-service in-flight cap; 1 serializes calls against each backend.
	MaxInFlight int `envconfig:"DISPATCH_MAX_IN_FLIGHT" default:"1"`
	// How long a service stays closed after it reports a rate limit.
	RateLimitCooldown time.Duration `envconfig:"DISPATCH_RATE_LIMIT_COOLDOWN" default:"30s"`
	// Requests-per-hour budget for the code-hosting API; 0 disables pacing.
	GitHubHourlyLimit int `envconfig:"DISPATCH_GITHUB_HOURLY_LIMIT" default:"5000"`
}

type ComposerConfig struct {
	// Minimum answer length requested for summarization queries that have
	// grounding material.
	MinSummaryWords int    `envconfig:"COMPOSER_MIN_SUMMARY_WORDS" default:"400"`
	OwnerName       string `envconfig:"COMPOSER_OWNER_NAME" default:"the portfolio owner"`
}

type GitHubConfig struct {
	Username string `envconfig:"GITHUB_USERNAME" required:"true"`
	Token    string `envconfig:"GITHUB_TOKEN"`
	// BaseURL overrides the API endpoint, used by tests.
	BaseURL string `envconfig:"GITHUB_BASE_URL"`
}

type RetrievalConfig struct {
	BaseURL string `envconfig:"RETRIEVAL_BASE_URL" required:"true"`
	APIKey  string `envconfig:"RETRIEVAL_API_KEY"`
	TopK    int    `envconfig:"RETRIEVAL_TOP_K" default:"5"`
}

type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"4000"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
}
