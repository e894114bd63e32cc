package mapview

// Widget
// ------------------------------------------------------------
// 지도 overlay 용 위젯 트리. Kind 는 "panel" 또는 "label".
//   - panel: Children 를 Layout("vertical" / "horizontal") 으로 배치
//   - label: Value 텍스트 (색 상자는 Value 없이 backgroundColor 만 사용)
type Widget struct {
	Kind     string            `json:"kind"`
	Value    string            `json:"value,omitempty"`
	Layout   string            `json:"layout,omitempty"`
	Style    map[string]string `json:"style,omitempty"`
	Children []Widget          `json:"children,omitempty"`
}

const (
	KindPanel = "panel"
	KindLabel = "label"

	LayoutVertical   = "vertical"
	LayoutHorizontal = "horizontal"
)

func Panel(layout string, style map[string]string, children ...Widget) Widget {
	return Widget{Kind: KindPanel, Layout: layout, Style: style, Children: children}
}

func Label(value string, style map[string]string) Widget {
	return Widget{Kind: KindLabel, Value: value, Style: style}
}

// Add 는 자식 위젯을 덧붙인 새 panel 을 반환한다.
func (w Widget) Add(children ...Widget) Widget {
	w.Children = append(append([]Widget(nil), w.Children...), children...)
	return w
}
