package lesson

// SpeakPayload 口播/字幕通道。
type SpeakPayload struct {
	Text string `json:"text"`
}

// TextPayload createText 的参数。
type TextPayload struct {
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	Text     string   `json:"text"`
	FontSize float64  `json:"fontSize,omitempty"`
	Color    string   `json:"color,omitempty"`
}

// RectanglePayload drawRectangle 的参数。
type RectanglePayload struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Color  string  `json:"color,omitempty"`
	Label  string  `json:"label,omitempty"`
}

// CirclePayload drawCircle 的参数。
type CirclePayload struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Color  string  `json:"color,omitempty"`
	Label  string  `json:"label,omitempty"`
}

// ArrowPayload drawArrow 的参数，Points 为 [x1, y1, x2, y2]。
type ArrowPayload struct {
	Points []float64 `json:"points"`
	Color  string    `json:"color,omitempty"`
}

// DraggablePayload createDraggable 的参数。
type DraggablePayload struct {
	ID   string  `json:"id"`
	Type string  `json:"type,omitempty"`
	Src  string  `json:"src,omitempty"`
	Text string  `json:"text,omitempty"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// DropTargetPayload setDropTarget 的参数。
type DropTargetPayload struct {
	ID                 string  `json:"id"`
	X                  float64 `json:"x"`
	Y                  float64 `json:"y"`
	Width              float64 `json:"width,omitempty"`
	Height             float64 `json:"height,omitempty"`
	CorrectComponentID string  `json:"correctComponentId"`
}

// TablePayload createTable 的参数。
type TablePayload struct {
	ID      string     `json:"id"`
	X       float64    `json:"x"`
	Y       float64    `json:"y"`
	Rows    int        `json:"rows,omitempty"`
	Cols    int        `json:"cols,omitempty"`
	Headers []string   `json:"headers,omitempty"`
	Cells   [][]string `json:"cells,omitempty"`
}

// FillTablePayload fillTable 的参数，通过 TableID 引用之前创建的表格。
type FillTablePayload struct {
	TableID string `json:"tableId"`
	Row     int    `json:"row"`
	Col     int    `json:"col"`
	Text    string `json:"text"`
}
