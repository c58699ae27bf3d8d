package tutoring

// DefaultDropTolerance 拖放判定半径（像素）。
const DefaultDropTolerance = 50

// KinestheticChallenge 从动觉模式的指令列表中提取出的拖放练习。
type KinestheticChallenge struct {
	Elements  []ChallengeElement `json:"elements"`
	DropZones []DropZone         `json:"dropZones"`
}

// ChallengeElement 可拖动元素。
type ChallengeElement struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DropZone 某个元素的正确落点。
type DropZone struct {
	ElementID string  `json:"elementId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Tolerance float64 `json:"tolerance"`
}

// ZoneFor 返回指定元素的落点。
func (c *KinestheticChallenge) ZoneFor(elementID string) (DropZone, bool) {
	if c == nil {
		return DropZone{}, false
	}
	for _, zone := range c.DropZones {
		if zone.ElementID == elementID {
			return zone, true
		}
	}
	return DropZone{}, false
}

// PerformanceCounter 按用户与模式累计的互动计数，只增不减。
type PerformanceCounter struct {
	UserID        string `json:"userId"`
	Mode          Mode   `json:"mode"`
	ResponseCount int    `json:"responseCount"`
	NegativeCount int    `json:"negativeResponseCount"`
}
