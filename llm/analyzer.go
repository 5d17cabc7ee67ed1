package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
)

// Analysis sources
const (
	SourceLLM   = "llm"
	SourceRules = "rules"
)

const summaryRunes = 50

// Analysis is the structured reading of one feedback
type Analysis struct {
	Type      string   `json:"type"`
	Summary   string   `json:"summary"`
	Severity  string   `json:"severity"`
	Entities  []string `json:"entities"`
	Sentiment string   `json:"sentiment"`
	Source    string   `json:"source"`
}

// Analyzer classifies feedback with the chat client and falls back to
// keyword rules when the model is unavailable or answers badly
type Analyzer struct {
	client *Client
	cache  *bigcache.BigCache
}

// NewAnalyzer returns an Analyzer caching model answers for cacheTTL.
// A zero TTL disables the cache.
func NewAnalyzer(client *Client, cacheTTL time.Duration) (*Analyzer, error) {
	a := &Analyzer{client: client}
	if cacheTTL > 0 {
		cfg := bigcache.DefaultConfig(cacheTTL)
		cfg.Verbose = false
		cache, err := bigcache.New(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create analysis cache: %w", err)
		}
		a.cache = cache
	}
	return a, nil
}

// Close releases the cache
func (a *Analyzer) Close() error {
	if a.cache != nil {
		return a.cache.Close()
	}
	return nil
}

const analyzeSystemPrompt = "You are a customer feedback analysis assistant. You read customer feedback and extract the key facts as JSON."

const analyzePrompt = `Analyze the following customer feedback and extract the relevant information.
Customer feedback: %s

Answer with JSON in exactly this format:
{
    "type": "problem type",
    "summary": "short problem summary, at most 50 characters",
    "severity": "severity",
    "entities": ["entity list"],
    "sentiment": "sentiment"
}

Problem type options: technical, service, price, feature, other
Severity options: high, medium, low
Sentiment options: positive, neutral, negative
Write the summary in the language of the feedback.`

// Analyze returns the structured reading of text. It never fails: model
// errors fall back to keyword rules.
func (a *Analyzer) Analyze(ctx context.Context, text string) Analysis {
	key := "analyze:" + text
	if cached, ok := a.cached(key); ok {
		return cached
	}
	if !a.client.Enabled() {
		return a.ruleAnalysis(ctx, text)
	}

	content, err := a.client.Chat(ctx, []Message{
		{Role: "system", Content: analyzeSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(analyzePrompt, text)},
	}, ChatOptions{Temperature: 0.5})
	if err != nil {
		Logger.Warn("LLM analysis failed, using keyword rules", "error", err)
		return a.ruleAnalysis(ctx, text)
	}
	analysis, err := ParseAnalysis(content)
	if err != nil {
		Logger.Warn("LLM output could not be parsed, using keyword rules", "output", content, "error", err)
		return a.ruleAnalysis(ctx, text)
	}
	if analysis.Summary == "" {
		analysis.Summary = truncate(text)
	}
	a.store(key, analysis)
	return analysis
}

// ParseAnalysis extracts the JSON object between the first '{' and the
// last '}' of a model answer and normalizes its labels
func ParseAnalysis(content string) (Analysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Analysis{}, errors.New("no JSON object in output")
	}
	var raw struct {
		Type      string   `json:"type"`
		Summary   string   `json:"summary"`
		Severity  string   `json:"severity"`
		Entities  []string `json:"entities"`
		Sentiment string   `json:"sentiment"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Analysis{}, err
	}
	analysis := Analysis{
		Type:      NormalizeType(raw.Type),
		Summary:   strings.TrimSpace(raw.Summary),
		Severity:  NormalizeSeverity(raw.Severity),
		Entities:  raw.Entities,
		Sentiment: NormalizeSentiment(raw.Sentiment),
		Source:    SourceLLM,
	}
	if analysis.Entities == nil {
		analysis.Entities = []string{}
	}
	return analysis, nil
}

// Summarize returns a short summary of text, truncating it when the model
// is unavailable
func (a *Analyzer) Summarize(ctx context.Context, text string) string {
	if !a.client.Enabled() {
		return truncate(text)
	}
	content, err := a.client.Chat(ctx, []Message{
		{Role: "system", Content: "You are a text summarization assistant who writes concise summaries."},
		{Role: "user", Content: fmt.Sprintf("Summarize the following text in at most %d characters:\n%s", summaryRunes, text)},
	}, ChatOptions{Temperature: 0.3, MaxTokens: 100})
	if err != nil || strings.TrimSpace(content) == "" {
		return truncate(text)
	}
	return strings.TrimSpace(content)
}

func (a *Analyzer) ruleAnalysis(ctx context.Context, text string) Analysis {
	analysis := RuleAnalysis(text)
	analysis.Summary = a.Summarize(ctx, text)
	return analysis
}

func (a *Analyzer) cached(key string) (Analysis, bool) {
	if a.cache == nil {
		return Analysis{}, false
	}
	data, err := a.cache.Get(key)
	if err != nil {
		return Analysis{}, false
	}
	var analysis Analysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return Analysis{}, false
	}
	return analysis, true
}

func (a *Analyzer) store(key string, analysis Analysis) {
	if a.cache == nil {
		return
	}
	data, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	if err := a.cache.Set(key, data); err != nil {
		Logger.Debug("Unable to cache analysis", "error", err)
	}
}

func truncate(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= summaryRunes {
		return string(runes)
	}
	return string(runes[:summaryRunes]) + "..."
}
