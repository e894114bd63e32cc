package legend

import (
	"errors"
	"fmt"
	"strconv"

	"buildings-export/internal/mapview"
	"buildings-export/internal/model"
)

// ErrLabelMismatch 는 label 수가 palette 색 수 - 1 과 다를 때.
var ErrLabelMismatch = errors.New("legend: label count does not match palette")

// Title 은 범례 제목.
const Title = "Building Height (meters)"

// DefaultLabels 는 기존 화면에서 쓰던 구간 라벨.
// breakpoint [0,1,2,4,7,9,10] 과 정확히 일치하지 않는다 ("5-7" vs 4→7).
// 어느 쪽이 맞는지 확정될 때까지 그대로 두고 BreakpointLabels 를 대안으로 제공한다.
func DefaultLabels() []string {
	return []string{"1-2", "2-4", "5-7", "7-9", "10+"}
}

// BreakpointLabels 는 palette breakpoint 에서 라벨을 만든다.
// [0,1,2,4,7,9,10] → 1-2, 2-4, 4-7, 7-9, 9-10
func BreakpointLabels(p model.Palette) []string {
	var out []string
	for i := 1; i+1 < len(p.Breakpoints); i++ {
		out = append(out, fmtNum(p.Breakpoints[i])+"-"+fmtNum(p.Breakpoints[i+1]))
	}
	return out
}

// Entries
// ------------------------------------------------------------
// palette index 1..n-1 (0 번 = 검정, "건물 없음" 은 제외) 와 labels 를 zip 한다.
// len(labels) != len(colors)-1 이면 잘라내지 않고 ErrLabelMismatch.
func Entries(p model.Palette, labels []string) ([]model.LegendEntry, error) {
	if len(p.Colors) == 0 || len(labels) != len(p.Colors)-1 {
		return nil, fmt.Errorf("%d colours, %d labels: %w", len(p.Colors), len(labels), ErrLabelMismatch)
	}
	out := make([]model.LegendEntry, 0, len(labels))
	for i := 1; i < len(p.Colors); i++ {
		out = append(out, model.LegendEntry{Color: p.Colors[i], Label: labels[i-1]})
	}
	return out, nil
}

// BuildLegend 는 제목 + 행(색 상자, 설명) 으로 구성된 우하단 고정 패널을 만든다.
// 한 번 만들어 view 에 붙이면 이후 갱신하지 않는다.
func BuildLegend(p model.Palette, labels []string) (mapview.Widget, []model.LegendEntry, error) {
	entries, err := Entries(p, labels)
	if err != nil {
		return mapview.Widget{}, nil, err
	}

	panel := mapview.Panel(mapview.LayoutVertical, map[string]string{
		"position":        "bottom-right",
		"padding":         "8px 15px",
		"backgroundColor": "white",
	}, mapview.Label(Title, map[string]string{
		"fontWeight": "bold",
		"fontSize":   "16px",
		"margin":     "0 0 4px 0",
		"padding":    "0",
	}))

	for _, e := range entries {
		colorBox := mapview.Label("", map[string]string{
			"backgroundColor": e.Color,
			"padding":         "8px",
			"margin":          "0 0 4px 0",
		})
		description := mapview.Label(e.Label, map[string]string{
			"margin": "0 0 4px 6px",
		})
		panel = panel.Add(mapview.Panel(mapview.LayoutHorizontal, nil, colorBox, description))
	}
	return panel, entries, nil
}

func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
