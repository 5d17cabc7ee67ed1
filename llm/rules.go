package llm

import "strings"

var typeKeywords = []struct {
	code     string
	keywords []string
}{
	{TypeTechnical, []string{"登录", "账号", "密码", "login", "log in", "account", "password", "crash", "error", "bug"}},
	{TypeService, []string{"客服", "服务", "响应", "support", "service", "response", "agent"}},
	{TypePrice, []string{"价格", "收费", "贵", "price", "expensive", "cost", "charge"}},
	{TypeFeature, []string{"功能", "建议", "希望", "feature", "suggest", "wish", "please add", "would like"}},
}

var highSeverityKeywords = []string{"无法", "不能", "失败", "cannot", "can't", "unable", "fail", "crash"}

var negativeKeywords = []string{"不满意", "糟糕", "差", "unsatisfied", "dissatisfied", "terrible", "awful", "not good", "bad", "poor"}

var positiveKeywords = []string{"满意", "很好", "不错", "satisfied", "great", "good", "excellent"}

// RuleAnalysis classifies text with keyword rules. The first matching type
// wins. Negative phrases are checked before positive ones so "不满意" is not
// read as "满意". The summary is left empty.
func RuleAnalysis(text string) Analysis {
	folded := fold(text)
	analysis := Analysis{
		Type:      TypeOther,
		Severity:  SeverityMedium,
		Sentiment: SentimentNeutral,
		Entities:  []string{},
		Source:    SourceRules,
	}
	for _, rule := range typeKeywords {
		if containsAny(folded, rule.keywords) {
			analysis.Type = rule.code
			break
		}
	}
	if containsAny(folded, highSeverityKeywords) {
		analysis.Severity = SeverityHigh
	}
	switch {
	case containsAny(folded, negativeKeywords):
		analysis.Sentiment = SentimentNegative
	case containsAny(folded, positiveKeywords):
		analysis.Sentiment = SentimentPositive
	}
	return analysis
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
