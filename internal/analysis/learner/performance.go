package learner

import (
	"fmt"

	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
)

const (
	minSamples          = 3
	switchBelowRate     = 60.0
	requiredImprovement = 25.0
)

// Stats 是某一模式下的累计互动。
type Stats struct {
	Mode      tutoring.Mode `json:"mode"`
	Responses int           `json:"responseCount"`
	Negatives int           `json:"negativeResponseCount"`
}

// SuccessRate 返回 (总数-负面)/总数×100，没有样本时为 0。
func (s Stats) SuccessRate() float64 {
	if s.Responses <= 0 {
		return 0
	}
	return float64(s.Responses-s.Negatives) / float64(s.Responses) * 100
}

// FromCounters 将存储中的计数器转换为按模式索引的统计。
func FromCounters(counters []tutoring.PerformanceCounter) map[tutoring.Mode]Stats {
	stats := make(map[tutoring.Mode]Stats, len(counters))
	for _, c := range counters {
		s := stats[c.Mode]
		s.Mode = c.Mode
		s.Responses += c.ResponseCount
		s.Negatives += c.NegativeCount
		stats[c.Mode] = s
	}
	return stats
}

// Suggestion 是模式切换建议。
type Suggestion struct {
	ShouldSwitch  bool          `json:"shouldSwitch"`
	CurrentMode   tutoring.Mode `json:"currentMode"`
	SuggestedMode tutoring.Mode `json:"suggestedMode,omitempty"`
	CurrentRate   float64       `json:"currentSuccessRate"`
	SuggestedRate float64       `json:"suggestedSuccessRate,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// AnalyzeModeSwitch 判断是否建议学习者换一种模式。
//
// 当前模式样本少于 3 次时不给建议；当前成功率低于 60 时，在其他有样本的模式中
// 选成功率最高的一个，且至少高出 25 个百分点才建议切换。
func AnalyzeModeSwitch(current tutoring.Mode, stats map[tutoring.Mode]Stats, names func(tutoring.Mode) string) Suggestion {
	cur := stats[current]
	result := Suggestion{CurrentMode: current, CurrentRate: cur.SuccessRate()}

	if cur.Responses < minSamples {
		return result
	}
	if result.CurrentRate >= switchBelowRate {
		return result
	}

	var (
		bestMode tutoring.Mode
		bestRate = -1.0
	)
	for _, mode := range tutoring.AllModes {
		if mode == current {
			continue
		}
		s, ok := stats[mode]
		if !ok || s.Responses <= 0 {
			continue
		}
		if rate := s.SuccessRate(); rate > bestRate {
			bestRate = rate
			bestMode = mode
		}
	}

	if bestMode == "" || bestRate < result.CurrentRate+requiredImprovement {
		return result
	}

	name := string(bestMode)
	if names != nil {
		if n := names(bestMode); n != "" {
			name = n
		}
	}

	result.ShouldSwitch = true
	result.SuggestedMode = bestMode
	result.SuggestedRate = bestRate
	result.Message = fmt.Sprintf("I notice you might learn better with %s mode. Would you like to try it?", name)
	return result
}
