package learner

import (
	"strings"
)

// Label 表示从学习者话语中识别出的学习状态。
type Label string

const (
	Neutral    Label = "neutral"
	Confused   Label = "confused"
	Frustrated Label = "frustrated"
	Positive   Label = "positive"
)

// Signal 给出学习状态识别结果与命中得分。
type Signal struct {
	Label Label
	Score int
}

// Negative 报告该信号是否代表一次负面反馈（没听懂或受挫）。
func (s Signal) Negative() bool {
	return s.Score > 0 && (s.Label == Confused || s.Label == Frustrated)
}

// 关键词同时覆盖英语与印尼语，学习者常混用两种语言。
var keywordBuckets = map[Label][]string{
	Confused: {
		"don't understand", "dont understand", "do not understand", "not understand", "confused", "confusing",
		"i'm lost", "im lost", "what do you mean", "unclear", "makes no sense", "doesn't make sense",
		"explain again", "say that again", "huh",
		"tidak mengerti", "nggak ngerti", "gak ngerti", "ga ngerti", "tidak paham", "gak paham", "bingung",
		"kurang jelas", "maksudnya apa", "ulangi",
	},
	Frustrated: {
		"too hard", "too difficult", "give up", "i can't", "i cant", "this is stupid", "boring", "hate this",
		"annoying", "frustrat", "still wrong", "wrong again",
		"susah", "sulit", "capek", "menyerah", "bosan", "males", "salah lagi",
	},
	Positive: {
		"got it", "i see", "makes sense", "understand now", "that's clear", "thanks", "thank you", "cool",
		"awesome", "great", "interesting", "show me more", "next",
		"paham", "mengerti", "oh begitu", "jelas", "keren", "terima kasih", "makasih", "lanjut",
	},
}

// 否定词会让积极词汇失效（"tidak paham" 不应计为 paham）。
var negations = []string{"not ", "don't ", "dont ", "tidak ", "gak ", "nggak ", "ga ", "belum ", "kurang "}

// Analyze 根据学习者的话语推断其学习状态。
func Analyze(utterance string) Signal {
	normalized := strings.TrimSpace(strings.ToLower(utterance))
	if normalized == "" {
		return Signal{Label: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			idx := strings.Index(normalized, word)
			if idx < 0 {
				continue
			}
			if label == Positive && negated(normalized, idx) {
				scores[Confused] += 3
				continue
			}
			scores[label] += 3
		}
	}

	questions := strings.Count(utterance, "?")
	if questions > 1 {
		scores[Confused] += questions
	}

	best := Neutral
	bestScore := 0
	for _, label := range []Label{Frustrated, Confused, Positive} {
		if scores[label] > bestScore {
			bestScore = scores[label]
			best = label
		}
	}

	return Signal{Label: best, Score: bestScore}
}

// IsNegative 报告该话语是否属于负面反馈。
func IsNegative(utterance string) bool {
	return Analyze(utterance).Negative()
}

func negated(text string, idx int) bool {
	prefix := text[:idx]
	for _, n := range negations {
		if strings.HasSuffix(prefix, n) {
			return true
		}
	}
	return false
}
