// Package composer turns one turn's tool results into the final answer by
// invoking the reasoning model exactly once under a fixed instruction
// contract.
package composer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/portfolio-agent-poc/server/internal/agent/model"
	errx "github.com/portfolio-agent-poc/server/internal/core/error"
	logx "github.com/portfolio-agent-poc/server/pkg/logger"
)

// noGroundingMarker tells the model that every tool failed, so it declines or
// answers from general knowledge instead of hallucinating specifics.
const noGroundingMarker = "NO GROUNDING MATERIAL AVAILABLE: every tool invocation for this turn failed."

// ChatModel is the one-call contract with the reasoning model.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

type Composer struct {
	chatModel ChatModel
	modelName string
	cfg       model.ComposerConfig

	systemPrompt string
}

func New(ctx context.Context, chatModel ChatModel, modelName string, cfg model.ComposerConfig) (*Composer, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	sys, err := RenderSystem(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Composer{
		chatModel:    chatModel,
		modelName:    modelName,
		cfg:          cfg,
		systemPrompt: sys,
	}, nil
}

// Compose builds the grounding context from the result set and asks the model
// for the answer. A model failure is terminal for the turn; any combination
// of tool failures is not.
func (c *Composer) Compose(ctx context.Context, q model.Query, results model.ToolResultSet) (model.Answer, error) {
	grounding, cited := buildContext(results)

	userContent := fmt.Sprintf("%s\n\nQuestion: %s", grounding, q.Text)
	messages := []*schema.Message{
		schema.SystemMessage(c.systemPrompt),
		schema.UserMessage(userContent),
	}

	out, err := c.chatModel.Generate(ctx, messages)
	if err != nil {
		logx.Error().Err(err).Int("turn", q.TurnIndex).Msg("reasoning model call failed")
		return model.Answer{}, errx.New(err, http.StatusBadGateway, errx.ModelErrorMessage)
	}
	if out == nil || out.Content == "" {
		return model.Answer{}, errx.New(fmt.Errorf("empty model response"), http.StatusBadGateway, errx.ModelErrorMessage)
	}

	c.logUsageCost(out)

	return model.Answer{
		Text:         out.Content,
		CitedSources: cited,
		TurnIndex:    q.TurnIndex,
	}, nil
}

// buildContext renders successful outputs labeled by tool, in result-set
// order, followed by notes for failed lookups. The returned cited list holds
// exactly the tools whose output entered the context, without duplicates.
func buildContext(results model.ToolResultSet) (string, []model.ToolID) {
	var b strings.Builder
	var cited []model.ToolID
	seen := make(map[model.ToolID]bool)

	succeeded := results.Succeeded()
	if len(succeeded) == 0 {
		b.WriteString(noGroundingMarker)
	} else {
		b.WriteString("Grounding material:\n")
		for _, r := range succeeded {
			fmt.Fprintf(&b, "=== source: %s (retrieved %s) ===\n%s\n",
				r.Output.Tool, r.Output.RetrievedAt.UTC().Format("2006-01-02T15:04:05Z"), r.Output.Payload)
			if !seen[r.Output.Tool] {
				seen[r.Output.Tool] = true
				cited = append(cited, r.Output.Tool)
			}
		}
	}

	for _, r := range results.Failed() {
		b.WriteString("\n")
		b.WriteString(failureNote(r))
	}

	return b.String(), cited
}

// failureNote describes a failed invocation for the model. Not-found
// repository lookups name the repository so the answer can say it was not
// found.
func failureNote(r model.ToolResult) string {
	kind := model.ErrUnknown
	if r.Err != nil {
		kind = r.Err.Kind
	}
	if repo := r.Invocation.Arg(model.ArgRepo); repo != "" && kind == model.ErrNotFound {
		return fmt.Sprintf("NOTE: repository %q was not found on the code-hosting account.", repo)
	}
	return fmt.Sprintf("NOTE: %s lookup failed (%s); its material is unavailable for this answer.", r.Invocation.Tool, kind)
}

func (c *Composer) logUsageCost(out *schema.Message) {
	if out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	usage := out.ResponseMeta.Usage
	_, _, total := model.ComputeCost(usage, model.ResolvePricing(c.modelName))
	logx.Debug().
		Str("model", c.modelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Float64("cost_usd", total).
		Msg("model usage")
}
