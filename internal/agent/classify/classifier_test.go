package classify

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/portfolio-agent-poc/server/internal/agent/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClassifier() *Classifier {
	return New(model.ClassifierConfig{
		ArticleVocabulary: "article,blog,post,paper,wrote about,published",
		ListingVocabulary: "repositories,repos,list my projects",
		MinIdentifierLen:  3,
	})
}

func toolSequence(invs []model.ToolInvocation) []model.ToolID {
	out := make([]model.ToolID, 0, len(invs))
	for _, inv := range invs {
		out = append(out, inv.Tool)
	}
	return out
}

func TestClassifyArticleVocabulary(t *testing.T) {
	c := testClassifier()
	q := model.Query{Text: "Summarize the hackathon article", TurnIndex: 0}

	invs := c.Classify(q, nil)

	require.Len(t, invs, 1)
	assert.Equal(t, model.ToolRAG, invs[0].Tool)
	assert.Equal(t, q.Text, invs[0].Arg(model.ArgQuery))
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := testClassifier()
	q := model.Query{Text: "Summarize the hackathon article about my_project_repo"}

	first := c.Classify(q, nil)
	second := c.Classify(q, nil)

	assert.Equal(t, first, second)
}

func TestClassifyListingVocabulary(t *testing.T) {
	c := testClassifier()
	q := model.Query{Text: "List my repositories"}

	invs := c.Classify(q, nil)

	require.Len(t, invs, 1)
	assert.Equal(t, model.ToolRepoList, invs[0].Tool)
}

func TestClassifyRepositoryIdentifier(t *testing.T) {
	c := testClassifier()
	q := model.Query{Text: "Summarize mcp_home_automation"}

	invs := c.Classify(q, nil)

	require.Equal(t, []model.ToolID{model.ToolRepoInfo, model.ToolRepoList}, toolSequence(invs))
	assert.Equal(t, "mcp_home_automation", invs[0].Arg(model.ArgRepo))
}

func TestClassifyFilePath(t *testing.T) {
	c := testClassifier()
	q := model.Query{Text: "Show README.md from mcp_home_automation"}

	invs := c.Classify(q, nil)

	require.Equal(t, []model.ToolID{model.ToolRepoFile}, toolSequence(invs))
	assert.Equal(t, "mcp_home_automation", invs[0].Arg(model.ArgRepo))
	assert.Equal(t, "README.md", invs[0].Arg(model.ArgPath))
}

func TestClassifyAmbiguousQueryEmitsBothSources(t *testing.T) {
	c := testClassifier()
	q := model.Query{Text: "summarize the hackathon article about my_project_repo"}

	invs := c.Classify(q, nil)

	require.Equal(t, []model.ToolID{model.ToolRAG, model.ToolRepoInfo, model.ToolRepoList}, toolSequence(invs))
	assert.Equal(t, "my_project_repo", invs[1].Arg(model.ArgRepo))
	for i, inv := range invs {
		assert.Equal(t, i, inv.Priority)
	}
}

func TestClassifyBroadFallback(t *testing.T) {
	c := testClassifier()
	q := model.Query{Text: "What have you been working on lately?"}

	invs := c.Classify(q, nil)

	require.Equal(t, []model.ToolID{model.ToolRAG, model.ToolRepoList}, toolSequence(invs))
	assert.Equal(t, q.Text, invs[0].Arg(model.ArgQuery))
}

func TestClassifyResolvesReferenceFromHistory(t *testing.T) {
	c := testClassifier()
	history := []*schema.Message{
		schema.UserMessage("Summarize mcp_home_automation"),
		schema.AssistantMessage("mcp_home_automation is a home automation project.", nil),
	}
	q := model.Query{Text: "What language is that repo written in?"}

	invs := c.Classify(q, history)

	require.Equal(t, []model.ToolID{model.ToolRepoInfo, model.ToolRepoList}, toolSequence(invs))
	assert.Equal(t, "mcp_home_automation", invs[0].Arg(model.ArgRepo))
}

func TestClassifyUnresolvableReferenceFallsBack(t *testing.T) {
	c := testClassifier()
	q := model.Query{Text: "Summarize that repo"}

	invs := c.Classify(q, nil)

	// No identifier can be resolved, so no invocation carries an empty
	// repo argument; the broad fallback fires instead.
	require.Equal(t, []model.ToolID{model.ToolRAG, model.ToolRepoList}, toolSequence(invs))
	for _, inv := range invs {
		for _, v := range inv.Arguments {
			assert.NotEmpty(t, v)
		}
	}
}

func TestClassifyHyphenatedIdentifier(t *testing.T) {
	c := testClassifier()
	q := model.Query{Text: "Summarize my-cool-project"}

	invs := c.Classify(q, nil)

	require.Equal(t, []model.ToolID{model.ToolRepoInfo, model.ToolRepoList}, toolSequence(invs))
	assert.Equal(t, "my-cool-project", invs[0].Arg(model.ArgRepo))
}

func TestClassifyShortTokenIgnored(t *testing.T) {
	c := New(model.ClassifierConfig{
		ArticleVocabulary: "article",
		ListingVocabulary: "repositories",
		MinIdentifierLen:  6,
	})
	q := model.Query{Text: "Do you know a-b?"}

	invs := c.Classify(q, nil)

	require.Equal(t, []model.ToolID{model.ToolRAG, model.ToolRepoList}, toolSequence(invs))
}
