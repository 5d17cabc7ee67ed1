package llm

import (
	"strings"

	"golang.org/x/text/cases"
)

// Problem types
const (
	TypeTechnical = "technical"
	TypeService   = "service"
	TypePrice     = "price"
	TypeFeature   = "feature"
	TypeOther     = "other"
)

// Severities
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Sentiments
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Types lists the problem types in display order
var Types = []string{TypeTechnical, TypeService, TypePrice, TypeFeature, TypeOther}

// Severities lists the severities from most to least urgent
var Severities = []string{SeverityHigh, SeverityMedium, SeverityLow}

var typeLabels = map[string]string{
	"技术问题":      TypeTechnical,
	"服务态度":      TypeService,
	"价格异议":      TypePrice,
	"功能建议":      TypeFeature,
	"其他":        TypeOther,
	"technical": TypeTechnical,
	"tech":      TypeTechnical,
	"service":   TypeService,
	"price":     TypePrice,
	"pricing":   TypePrice,
	"feature":   TypeFeature,
	"other":     TypeOther,
}

var severityLabels = map[string]string{
	"高":      SeverityHigh,
	"中":      SeverityMedium,
	"低":      SeverityLow,
	"high":   SeverityHigh,
	"medium": SeverityMedium,
	"low":    SeverityLow,
}

var sentimentLabels = map[string]string{
	"正面":       SentimentPositive,
	"中性":       SentimentNeutral,
	"负面":       SentimentNegative,
	"positive": SentimentPositive,
	"neutral":  SentimentNeutral,
	"negative": SentimentNegative,
}

// NormalizeType maps a type code or label (English or Chinese) to its code.
// Unknown values map to TypeOther.
func NormalizeType(label string) string {
	return lookup(typeLabels, label, TypeOther)
}

// NormalizeSeverity maps a severity code or label to its code. Unknown
// values map to SeverityMedium.
func NormalizeSeverity(label string) string {
	return lookup(severityLabels, label, SeverityMedium)
}

// NormalizeSentiment maps a sentiment label to its code
func NormalizeSentiment(label string) string {
	return lookup(sentimentLabels, label, SentimentNeutral)
}

// ParseType maps an exact type code or label to its code, without the
// fuzzy matching of NormalizeType
func ParseType(label string) (string, bool) {
	code, ok := typeLabels[fold(strings.TrimSpace(label))]
	return code, ok
}

// ParseSeverity maps an exact severity code or label to its code
func ParseSeverity(label string) (string, bool) {
	code, ok := severityLabels[fold(strings.TrimSpace(label))]
	return code, ok
}

// ValidType reports whether code is a known problem type code
func ValidType(code string) bool {
	for _, t := range Types {
		if t == code {
			return true
		}
	}
	return false
}

// ValidSeverity reports whether code is a known severity code
func ValidSeverity(code string) bool {
	for _, s := range Severities {
		if s == code {
			return true
		}
	}
	return false
}

func lookup(labels map[string]string, label, fallback string) string {
	key := fold(strings.TrimSpace(label))
	if code, ok := labels[key]; ok {
		return code
	}
	// models sometimes answer "technical issue" or "技术问题类", the longest
	// contained label wins
	best, bestKey := fallback, ""
	for k, code := range labels {
		if len([]rune(k)) < 2 || !strings.Contains(key, k) {
			continue
		}
		if len(k) > len(bestKey) || (len(k) == len(bestKey) && k < bestKey) {
			best, bestKey = code, k
		}
	}
	return best
}

func fold(s string) string {
	return cases.Fold().String(s)
}
