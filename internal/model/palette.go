package model

// Palette
// ------------------------------------------------------------
// 높이(m) 표시용 색상표.
//   - Colors[0] 은 "건물 없음"(0 / no-data) 전용 색
//   - Breakpoints 는 구간 경계값 (원본 heightRanges 그대로)
//
// 정의 이후 재계산하지 않는다.
type Palette struct {
	Colors      []string  `json:"colors"`
	Breakpoints []float64 `json:"breakpoints"`
}

// HeightPalette 는 height layer 와 범례가 공유하는 기본 색상표를 반환한다.
// 호출마다 새 slice 를 돌려주므로 호출자가 수정해도 안전하다.
func HeightPalette() Palette {
	return Palette{
		Colors:      []string{"#000000", "#ffcccc", "#ff9999", "#ff6666", "#ff3333", "#cc0000"},
		Breakpoints: []float64{0, 1, 2, 4, 7, 9, 10},
	}
}

// ColorFor 는 높이 값이 속하는 구간의 색을 돌려준다.
// [b(i-1), b(i)) 구간은 Colors[i-1]. 0 이하(건물 없음)는 Colors[0],
// 마지막 경계 이상은 마지막 색.
func (p Palette) ColorFor(h float64) string {
	if len(p.Colors) == 0 {
		return ""
	}
	if len(p.Breakpoints) < 2 || h <= p.Breakpoints[0] {
		return p.Colors[0]
	}
	for i := 1; i < len(p.Breakpoints); i++ {
		if h < p.Breakpoints[i] {
			return p.Colors[min(i-1, len(p.Colors)-1)]
		}
	}
	return p.Colors[len(p.Colors)-1]
}
