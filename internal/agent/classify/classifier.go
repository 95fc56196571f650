// Package classify maps a user query onto candidate tool invocations.
//
// Routing is an explicit rule table rather than model-driven pattern
// matching: each rule inspects the query text for one signal and emits the
// invocations for that signal. Multiple rules may fire for one query; the
// composer decides which grounding material ends up in the answer.
package classify

import (
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/portfolio-agent-poc/server/internal/agent/model"
)

// identifierPattern matches repository-style names: lowercase alphanumeric
// segments joined by underscores or hyphens (e.g. mcp_home_automation).
var identifierPattern = regexp.MustCompile(`^[a-z0-9]+(?:[_-][a-z0-9]+)+$`)

// filePattern matches file-path tokens such as README.md or src/main.py.
var filePattern = regexp.MustCompile(`^[\w./-]*\w\.[A-Za-z][A-Za-z0-9]{0,7}$`)

// referencePhrases trigger history lookup for follow-up queries that point at
// a repository named in an earlier turn.
var referencePhrases = []string{
	"that repo", "that repository", "that project",
	"this repo", "this repository", "this project",
}

type Classifier struct {
	articleVocab []string
	listingVocab []string
	minIdentLen  int
}

func New(cfg model.ClassifierConfig) *Classifier {
	minLen := cfg.MinIdentifierLen
	if minLen <= 0 {
		minLen = 3
	}
	return &Classifier{
		articleVocab: splitVocabulary(cfg.ArticleVocabulary),
		listingVocab: splitVocabulary(cfg.ListingVocabulary),
		minIdentLen:  minLen,
	}
}

// Classify applies the rule table to one query. It is pure and deterministic:
// the same query and history always produce the same invocation sequence.
// History is read-only input, used only to resolve follow-up references.
func (c *Classifier) Classify(q model.Query, history []*schema.Message) []model.ToolInvocation {
	lower := strings.ToLower(q.Text)

	var out []model.ToolInvocation
	emit := func(tool model.ToolID, args map[string]string) {
		// Never pass through a candidate whose required argument is
		// empty; drop it here rather than at dispatch.
		for _, v := range args {
			if strings.TrimSpace(v) == "" {
				return
			}
		}
		out = append(out, model.ToolInvocation{Tool: tool, Arguments: args, Priority: len(out)})
	}

	// Rule 1: article/content vocabulary routes to the document index.
	if containsAny(lower, c.articleVocab) {
		emit(model.ToolRAG, map[string]string{model.ArgQuery: q.Text})
	}

	// Rule 2: repository-listing vocabulary routes straight to a listing.
	listed := false
	if containsAny(lower, c.listingVocab) {
		emit(model.ToolRepoList, nil)
		listed = true
	}

	// Rule 3: repository-identifier tokens route to the code-hosting API.
	idents := c.identifiers(lower)
	if len(idents) == 0 && containsAny(lower, referencePhrases) {
		if ref := c.resolveReference(history); ref != "" {
			idents = []string{ref}
		}
	}
	if len(idents) > 0 {
		path := filePath(q.Text)
		for _, ident := range idents {
			if path != "" {
				emit(model.ToolRepoFile, map[string]string{model.ArgRepo: ident, model.ArgPath: path})
				continue
			}
			emit(model.ToolRepoInfo, map[string]string{model.ArgRepo: ident})
		}
		// Without a specific file the identifier may be wrong or partial;
		// a listing gives the composer material to disambiguate.
		if path == "" && !listed {
			emit(model.ToolRepoList, nil)
			listed = true
		}
	}

	// Rule 4: nothing fired. Broad fallback so the model never answers a
	// portfolio question with empty context.
	if len(out) == 0 {
		emit(model.ToolRAG, map[string]string{model.ArgQuery: q.Text})
		emit(model.ToolRepoList, nil)
	}

	return out
}

// identifiers extracts repository-style tokens in order of first appearance.
func (c *Classifier) identifiers(lower string) []string {
	seen := make(map[string]bool)
	var idents []string
	for _, tok := range strings.Fields(lower) {
		tok = strings.Trim(tok, `.,;:!?"'()[]{}`)
		if len(tok) < c.minIdentLen || seen[tok] {
			continue
		}
		if identifierPattern.MatchString(tok) {
			seen[tok] = true
			idents = append(idents, tok)
		}
	}
	return idents
}

// resolveReference walks history newest-first looking for the most recently
// mentioned repository identifier.
func (c *Classifier) resolveReference(history []*schema.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m == nil || m.Content == "" {
			continue
		}
		idents := c.identifiers(strings.ToLower(m.Content))
		if len(idents) > 0 {
			return idents[len(idents)-1]
		}
	}
	return ""
}

// filePath returns the first file-path token in the query, if any. Case is
// preserved because repository paths are case-sensitive.
func filePath(text string) string {
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, `,;:!?"'()[]{}`)
		if filePattern.MatchString(tok) {
			return tok
		}
	}
	return ""
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func splitVocabulary(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
