package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/portfolio-agent-poc/server/internal/agent/classify"
	"github.com/portfolio-agent-poc/server/internal/agent/composer"
	"github.com/portfolio-agent-poc/server/internal/agent/dispatch"
	"github.com/portfolio-agent-poc/server/internal/agent/model"
	"github.com/portfolio-agent-poc/server/internal/agent/repo"
	"github.com/portfolio-agent-poc/server/internal/agent/session"
	"github.com/portfolio-agent-poc/server/internal/agent/tools"
	"github.com/portfolio-agent-poc/server/internal/core"
	logx "github.com/portfolio-agent-poc/server/pkg/logger"
	pkgredis "github.com/portfolio-agent-poc/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the portfolio agent,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Backends
	GitHub    model.GitHubConfig
	Retrieval model.RetrievalConfig

	// Agent configs
	Classifier   model.ClassifierConfig
	Dispatcher   model.DispatcherConfig
	Composer     model.ComposerConfig
	Response     model.ResponseModelConfig
	Conversation model.ConversationConfig
}

func main() {
	ctx := context.Background()

	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	rdb, err := cfg.Redis.New()
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		log.Fatalf("Invalid CONVERSATION_TTL '%s': %v", cfg.Conversation.TTL, err)
	}

	// ====================================================
	// Wire the turn pipeline: classifier -> dispatcher -> composer
	githubClient, err := tools.NewGitHubClient(cfg.GitHub)
	if err != nil {
		log.Fatalf("Failed to build GitHub client: %v", err)
	}
	retrievalClient, err := tools.NewRetrievalClient(cfg.Retrieval)
	if err != nil {
		log.Fatalf("Failed to build retrieval client: %v", err)
	}

	chatModel, err := composer.NewGeminiModel(ctx, composer.GeminiConfig{
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Response: cfg.Response,
	})
	if err != nil {
		log.Fatalf("Failed to build reasoning model: %v", err)
	}

	cp, err := composer.New(ctx, chatModel, cfg.Response.Model, cfg.Composer)
	if err != nil {
		log.Fatalf("Failed to build composer: %v", err)
	}

	sess := session.New(
		"portfolio-demo-1",
		classify.New(cfg.Classifier),
		dispatch.New(cfg.Dispatcher, githubClient, retrievalClient),
		cp,
		repo.NewRedisConversationRepository(rdb, ttl),
		cfg.Conversation,
	)

	testQueries := []struct {
		description string
		query       string
	}{
		{
			description: "Repository listing",
			query:       "List my repositories",
		},
		{
			description: "Article summary via the document index",
			query:       "Summarize the hackathon article",
		},
		{
			description: "Project summary via the code-hosting API",
			query:       "Summarize mcp_home_automation",
		},
		{
			description: "Follow-up referencing the previous repository",
			query:       "What language is that repo written in?",
		},
	}

	for i, test := range testQueries {
		fmt.Printf("\nTest %d: %s\n", i+1, test.description)
		fmt.Printf("Query: %q\n", test.query)

		answer, err := sess.Submit(ctx, test.query)
		if err != nil {
			log.Fatalf("Failed to submit turn %d: %v", i+1, err)
		}

		fmt.Printf("Answer (turn %d, cited %v):\n%s\n", answer.TurnIndex, answer.CitedSources, answer.Text)
		fmt.Println("------------------------------------------------")
	}

	fmt.Println("All turns completed.")
}
