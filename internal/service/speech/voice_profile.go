package speech

import (
	"strings"

	"github.com/zhouzirui/citta/backend/internal/analysis/learner"
)

// 学习者状态到合成情绪的映射：困惑时安抚，沮丧时温柔鼓励，积极时一起开心。
var toneByLabel = map[learner.Label]string{
	learner.Confused:   "comfort",
	learner.Frustrated: "tender",
	learner.Positive:   "happy",
}

var emotionVoiceWhitelist = map[string]struct{}{
	"en_female_candice_emo_v2_mars_bigtts": {},
	"en_female_skye_emo_v2_mars_bigtts":    {},
	"en_male_glen_emo_v2_mars_bigtts":      {},
	"en_male_sylus_emo_v2_mars_bigtts":     {},
	"en_male_corey_emo_v2_mars_bigtts":     {},
}

// ToneFor 根据学习者最近一句话的信号选择合成情绪，发音人不支持情绪时返回空串。
func ToneFor(voice string, signal learner.Signal) string {
	if signal.Score <= 0 || !supportsEmotion(NormalizeVoiceAlias(voice)) {
		return ""
	}
	return toneByLabel[signal.Label]
}

func supportsEmotion(voice string) bool {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if normalized == "" {
		return false
	}
	if _, ok := emotionVoiceWhitelist[normalized]; ok {
		return true
	}
	return strings.Contains(normalized, "_emo_")
}
