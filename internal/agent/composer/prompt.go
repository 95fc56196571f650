package composer

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/portfolio-agent-poc/server/internal/agent/model"
)

//go:embed template/system_prompt.txt
var systemPrompt string

// RenderSystem renders the composer's fixed instruction contract.
func RenderSystem(ctx context.Context, cfg model.ComposerConfig) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(systemPrompt),
	)
	vars := map[string]any{
		"OwnerName": cfg.OwnerName,
		"MinWords":  cfg.MinSummaryWords,
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return msgs[0].Content, nil
}
