package insights

import (
	"sort"
	"strings"
	"unicode"
)

// Sentiment is the coarse mood of a note.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Neutral  Sentiment = "neutral"
	Negative Sentiment = "negative"
)

// SentimentResult carries the label and a score clamped to [-5, 5].
type SentimentResult struct {
	Sentiment Sentiment `json:"sentiment"`
	Score     int       `json:"score"`
}

var (
	positiveWords = []string{"good", "great", "excellent", "amazing", "happy", "success", "achieved", "progress", "improve", "better", "love", "enjoy", "wonderful", "fantastic", "proud"}
	negativeWords = []string{"bad", "terrible", "failed", "disappointed", "sad", "difficult", "struggle", "problem", "worried", "stress", "hard", "tired", "frustrated"}

	stopWords = toSet("the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by", "is", "was", "are", "were", "be", "been", "have", "has", "had", "do", "does", "did", "will", "would", "should", "could", "may", "might", "must", "can", "this", "that", "these", "those", "i", "you", "he", "she", "it", "we", "they", "me", "him", "her", "us", "them")

	// categories are checked in this order when auto tagging.
	categories = []struct {
		name     string
		keywords []string
	}{
		{"work", []string{"work", "job", "office", "project", "meeting", "task"}},
		{"study", []string{"study", "learn", "course", "book", "reading", "education"}},
		{"exercise", []string{"exercise", "workout", "gym", "run", "fitness", "sport"}},
		{"health", []string{"health", "doctor", "medicine", "wellness", "diet", "food"}},
		{"travel", []string{"travel", "trip", "vacation", "journey", "flight"}},
		{"family", []string{"family", "parent", "child", "home", "house"}},
		{"hobby", []string{"hobby", "music", "art", "craft", "game", "fun"}},
	}
)

const (
	sentimentThreshold = 2
	sentimentCap       = 5
	maxKeywords        = 5
	keywordsInTags     = 3
	minKeywordLen      = 4
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// tokenize lowercases text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsAny(token string, words []string) bool {
	for _, w := range words {
		if strings.Contains(token, w) {
			return true
		}
	}
	return false
}

// AnalyzeSentiment scores text by counting tokens that contain a positive or
// negative keyword. Scores within [-2, 2] are reported as neutral with score 0.
func AnalyzeSentiment(text string) SentimentResult {
	var score int
	for _, tok := range tokenize(text) {
		if containsAny(tok, positiveWords) {
			score++
		}
		if containsAny(tok, negativeWords) {
			score--
		}
	}
	switch {
	case score > sentimentThreshold:
		return SentimentResult{Sentiment: Positive, Score: min(score, sentimentCap)}
	case score < -sentimentThreshold:
		return SentimentResult{Sentiment: Negative, Score: max(score, -sentimentCap)}
	default:
		return SentimentResult{Sentiment: Neutral}
	}
}

// ExtractTags returns up to five of the most frequent meaningful words of text.
// Words shorter than four letters, stop words and numbers are ignored; ties
// keep their first appearance order.
func ExtractTags(text string) []string {
	counts := map[string]int{}
	var order []string
	for _, tok := range tokenize(text) {
		if len(tok) < minKeywordLen || isNumber(tok) {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// AutoTag derives tags for a note: the categories its keywords fall into,
// followed by its top three keywords. A keyword falls into a category when it
// starts with one of the category's words.
func AutoTag(note string) []string {
	keywords := ExtractTags(note)
	seen := map[string]struct{}{}
	var tags []string
	add := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	for _, kw := range keywords {
		for _, c := range categories {
			for _, w := range c.keywords {
				if strings.HasPrefix(kw, w) {
					add(c.name)
					break
				}
			}
		}
	}
	for i, kw := range keywords {
		if i == keywordsInTags {
			break
		}
		add(kw)
	}
	return tags
}
