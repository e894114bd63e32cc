package mapview

import (
	"math"
	"sync"

	"buildings-export/internal/raster"
	"buildings-export/internal/region"
)

// VisParams 는 layer 표시 파라미터 (min/max stretch + palette).
// Palette 가 비어 있으면 grayscale.
type VisParams struct {
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Palette []string `json:"palette,omitempty"`
}

// Clamp 는 값을 [Min, Max] 로 자른다.
func (v VisParams) Clamp(x float64) float64 {
	return math.Max(v.Min, math.Min(v.Max, x))
}

// Color 는 값을 [Min,Max] 로 clamp 한 뒤 palette 위에 선형 stretch 한 색을 돌려준다.
func (v VisParams) Color(x float64) string {
	if len(v.Palette) == 0 || v.Max <= v.Min {
		return ""
	}
	t := (v.Clamp(x) - v.Min) / (v.Max - v.Min)
	i := int(math.Round(t * float64(len(v.Palette)-1)))
	return v.Palette[i]
}

// Layer 는 지도 위에 올라간 raster 한 장.
type Layer struct {
	Name string
	Grid *raster.Grid
	Vis  VisParams
}

// Center 는 지도 중심과 zoom.
type Center struct {
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
	Zoom int     `json:"zoom"`
}

// MapView
// ------------------------------------------------------------
// 렌더링 결과를 누적하는 명시적 view 값.
// 전역 지도 상태 대신 호출자가 만들어 각 렌더링 함수에 넘긴다.
// 테스트는 격리된 MapView 에 그린 뒤 Layers 를 확인하면 된다.
//
// viewer(HTTP) 가 읽는 동안에도 안전하도록 mutex 로 보호한다.
type MapView struct {
	mu     sync.RWMutex
	layers []Layer
	panels []Widget
	center *Center
}

func New() *MapView {
	return &MapView{}
}

// AddLayer 는 layer 를 맨 위(z-order 마지막)에 추가한다.
func (m *MapView) AddLayer(g *raster.Grid, vis VisParams, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers = append(m.layers, Layer{Name: name, Grid: g, Vis: vis})
}

// AddLegendPanel 은 고정 위치 overlay 위젯을 추가한다.
func (m *MapView) AddLegendPanel(w Widget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panels = append(m.panels, w)
}

// CenterView 는 region 의 bbox 중심으로 이동한다.
func (m *MapView) CenterView(r region.Region, zoom int) {
	b := r.BBox()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center = &Center{
		Lon:  (b.MinLon + b.MaxLon) / 2,
		Lat:  (b.MinLat + b.MaxLat) / 2,
		Zoom: zoom,
	}
}

// Layers 는 추가 순서대로 layer 복사본을 돌려준다.
func (m *MapView) Layers() []Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Layer(nil), m.layers...)
}

func (m *MapView) Panels() []Widget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Widget(nil), m.panels...)
}

func (m *MapView) Center() (Center, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.center == nil {
		return Center{}, false
	}
	return *m.center, true
}
