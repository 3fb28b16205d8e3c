package router

import (
	"regexp"
	"strings"
)

// Complexity classifies a query as simple or complex
type Complexity int

const (
	// Simple means the query can be answered by the cheap model
	Simple Complexity = iota
	// Complex means the query warrants the capable model
	Complex
)

// String returns the complexity label.
func (c Complexity) String() string {
	if c == Complex {
		return "complex"
	}
	return "simple"
}

// Signal contains the result of a classification
type Signal struct {
	Complexity Complexity
	Reason     string // Human-readable reason for the decision
}

// simplePatterns match short transactional queries. They are anchored to
// the start of the query and checked before anything else; first match
// wins.
var simplePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^what.*status`),
	regexp.MustCompile(`^show.*ticket`),
	regexp.MustCompile(`^list.*tickets?`),
	regexp.MustCompile(`^create.*ticket`),
	regexp.MustCompile(`^update.*status`),
	regexp.MustCompile(`^close.*ticket`),
	regexp.MustCompile(`^get.*ticket`),
	regexp.MustCompile(`^find.*ticket`),
	regexp.MustCompile(`^how many`),
	regexp.MustCompile(`^is.*open`),
	regexp.MustCompile(`^yes$`),
	regexp.MustCompile(`^no$`),
	regexp.MustCompile(`^ok$`),
	regexp.MustCompile(`^thanks?`),
}

// complexPatterns match anywhere in the query.
var complexPatterns = []*regexp.Regexp{
	regexp.MustCompile(`explain.*in detail`),
	regexp.MustCompile(`analyze`),
	regexp.MustCompile(`compare`),
	regexp.MustCompile(`summarize.*all`),
	regexp.MustCompile(`what.*differences?`),
	regexp.MustCompile(`why.*happened`),
	regexp.MustCompile(`how.*work`),
	regexp.MustCompile(`troubleshoot`),
	regexp.MustCompile(`debug`),
	regexp.MustCompile(`investigate`),
	regexp.MustCompile(`review.*history`),
	regexp.MustCompile(`multiple.*issues`),
	regexp.MustCompile(`complex`),
	regexp.MustCompile(`detailed.*report`),
}

// analyticalKeywords push a query to the capable model when the pattern
// lists miss.
var analyticalKeywords = []string{"why", "how", "explain", "analyze", "troubleshoot"}

// Classifier decides which model tier a query needs.
type Classifier struct{}

// NewClassifier creates a rule-based classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify examines the query and conversation depth. Pattern checks run
// before heuristics; simple patterns take precedence over complex ones.
func (c *Classifier) Classify(query string, contextLength int) Signal {
	normalized := strings.ToLower(strings.TrimSpace(query))

	for _, p := range simplePatterns {
		if p.MatchString(normalized) {
			return Signal{Simple, "matched simple pattern: " + p.String()}
		}
	}

	for _, p := range complexPatterns {
		if p.MatchString(normalized) {
			return Signal{Complex, "matched complex pattern: " + p.String()}
		}
	}

	wordCount := len(strings.Fields(normalized))
	if wordCount <= 5 {
		return Signal{Simple, "short query (<=5 words)"}
	}
	if wordCount > 50 {
		return Signal{Complex, "lengthy query (>50 words)"}
	}
	if contextLength > 10 {
		return Signal{Complex, "deep conversation context (>10 turns)"}
	}

	for _, kw := range analyticalKeywords {
		if strings.Contains(normalized, kw) {
			return Signal{Complex, "analytical keyword: " + kw}
		}
	}

	return Signal{Simple, "no complexity signals detected"}
}
