package search

import (
	"context"
	"strings"
	"time"
	"unicode"

	"codeatlas/internal/llm"
	"codeatlas/internal/logging"
)

const parserSystemPrompt = `You translate catalog search queries into structured form. Respond with ONLY a JSON object:
{
  "keywords": [search terms extracted from the query],
  "filters": {
    "languages": [programming languages, only if the query names them],
    "type": project type, only if the query names one,
    "lifecycle": only if the query names one,
    "has_tests": true/false, only if the query asks about tests,
    "min_health_score": number 0-100, only if the query sets a health bar
  },
  "intent": short label such as "search"
}
Never invent a filter the query does not state. Omit unset filters entirely.`

const expandSystemPrompt = `Rewrite the user's catalog search query as a richer one-sentence description of what they are looking for. Respond with the rewritten sentence only.`

// ParsedQuery is the structured form of a free-text query.
type ParsedQuery struct {
	Keywords []string `json:"keywords"`
	Filters  Filters  `json:"filters"`
	Intent   string   `json:"intent"`
	// LLMParsed is false when the tokenizer fallback produced the parse.
	LLMParsed bool `json:"-"`
}

// Parser turns free-text queries into ParsedQuery records via the LLM.
type Parser struct {
	client  llm.Client
	timeout time.Duration
}

// NewParser creates a query parser. A nil client always falls back.
func NewParser(client llm.Client, timeout time.Duration) *Parser {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Parser{client: client, timeout: timeout}
}

// Parse structures a query, falling back to plain tokenization when the
// model is unavailable or returns junk.
func (p *Parser) Parse(ctx context.Context, query string) *ParsedQuery {
	if p.client == nil {
		return fallbackParse(query)
	}
	llmCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.client.Generate(llmCtx, query, llm.Options{
		System:      parserSystemPrompt,
		Temperature: 0.1,
	})
	if err != nil {
		logging.SearchDebug("query parse failed, tokenizing: %v", err)
		return fallbackParse(query)
	}
	var parsed ParsedQuery
	if err := llm.DecodeJSON(raw, &parsed); err != nil {
		logging.SearchDebug("unparseable query parse, tokenizing: %v", err)
		return fallbackParse(query)
	}
	if len(parsed.Keywords) == 0 {
		parsed.Keywords = tokenize(query)
	}
	if parsed.Intent == "" {
		parsed.Intent = "search"
	}
	parsed.LLMParsed = true
	return &parsed
}

// ExpandQuery rewrites a query for embedding. Returns "" on any failure so
// the caller keeps the original.
func (p *Parser) ExpandQuery(ctx context.Context, query string) string {
	if p.client == nil {
		return ""
	}
	llmCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.client.Generate(llmCtx, query, llm.Options{
		System:      expandSystemPrompt,
		Temperature: 0.3,
	})
	if err != nil {
		logging.SearchDebug("query expansion failed: %v", err)
		return ""
	}
	return strings.TrimSpace(llm.StripFences(out))
}

// fallbackParse is the deterministic no-LLM parse.
func fallbackParse(query string) *ParsedQuery {
	return &ParsedQuery{
		Keywords: tokenize(query),
		Intent:   "search",
	}
}

// tokenize lowercases and splits on non-alphanumerics, dropping one-letter
// fragments.
func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
