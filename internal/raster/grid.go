package raster

import (
	"errors"
	"fmt"
	"math"

	"buildings-export/internal/region"
)

// ErrShapeMismatch 는 두 grid 의 격자 정의가 달라 pixel 단위 연산이 불가능할 때.
var ErrShapeMismatch = errors.New("raster: grid shape mismatch")

// Grid
// ------------------------------------------------------------
// 경위도(EPSG:4326) 기준 north-up 격자 한 band.
//
//   - Data[row*Cols+col] 에 값 저장, row 0 = 북쪽(MaxLat)
//   - Valid 가 false 인 pixel 은 no-data (masked)
//
// 데이터셋 타일, 모자이크 결과, mask/clip 결과 모두 이 타입을 쓴다.
type Grid struct {
	Bounds region.BBox `json:"bounds"`
	Cols   int         `json:"cols"`
	Rows   int         `json:"rows"`
	Data   []float64   `json:"data"`
	Valid  []bool      `json:"valid"`
}

// New 는 모든 pixel 이 no-data 인 grid 를 만든다.
func New(bounds region.BBox, cols, rows int) *Grid {
	cols, rows = max(cols, 0), max(rows, 0)
	return &Grid{
		Bounds: bounds,
		Cols:   cols,
		Rows:   rows,
		Data:   make([]float64, cols*rows),
		Valid:  make([]bool, cols*rows),
	}
}

// FromValues 는 row-major 값으로 grid 를 만든다. NaN 은 no-data 로 본다.
func FromValues(bounds region.BBox, cols, rows int, values []float64) (*Grid, error) {
	if cols <= 0 || rows <= 0 || len(values) != cols*rows {
		return nil, fmt.Errorf("raster: %d values for %dx%d grid: %w", len(values), cols, rows, ErrShapeMismatch)
	}
	g := New(bounds, cols, rows)
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		g.Data[i] = v
		g.Valid[i] = true
	}
	return g, nil
}

// Check 는 내부 slice 길이가 Cols*Rows 와 맞는지 확인한다.
func (g *Grid) Check() error {
	n := g.Cols * g.Rows
	if g.Cols < 0 || g.Rows < 0 || len(g.Data) != n || len(g.Valid) != n {
		return fmt.Errorf("raster: %dx%d grid with %d values / %d mask: %w",
			g.Cols, g.Rows, len(g.Data), len(g.Valid), ErrShapeMismatch)
	}
	return nil
}

func (g *Grid) PixelWidth() float64  { return g.Bounds.Width() / float64(g.Cols) }
func (g *Grid) PixelHeight() float64 { return g.Bounds.Height() / float64(g.Rows) }

// Len 은 pixel 수.
func (g *Grid) Len() int { return g.Cols * g.Rows }

// Center 는 pixel 중심 좌표.
func (g *Grid) Center(col, row int) region.Point {
	return region.Point{
		Lon: g.Bounds.MinLon + (float64(col)+0.5)*g.PixelWidth(),
		Lat: g.Bounds.MaxLat - (float64(row)+0.5)*g.PixelHeight(),
	}
}

// Locate 는 좌표가 속한 pixel 을 찾는다. 격자 밖이면 ok=false.
func (g *Grid) Locate(p region.Point) (col, row int, ok bool) {
	if g.Cols == 0 || g.Rows == 0 || !g.Bounds.Contains(p) {
		return 0, 0, false
	}
	col = int(math.Floor((p.Lon - g.Bounds.MinLon) / g.PixelWidth()))
	row = int(math.Floor((g.Bounds.MaxLat - p.Lat) / g.PixelHeight()))
	// 동쪽/남쪽 경계 위의 점은 마지막 pixel 로 포함
	col = min(col, g.Cols-1)
	row = min(row, g.Rows-1)
	return col, row, true
}

// At 은 (col,row) 값과 유효 여부.
func (g *Grid) At(col, row int) (float64, bool) {
	i := row*g.Cols + col
	return g.Data[i], g.Valid[i]
}

// Set 은 (col,row) 에 유효 값을 기록한다.
func (g *Grid) Set(col, row int, v float64) {
	i := row*g.Cols + col
	g.Data[i] = v
	g.Valid[i] = true
}

// Sample 은 좌표의 nearest-neighbour 값.
func (g *Grid) Sample(p region.Point) (float64, bool) {
	col, row, ok := g.Locate(p)
	if !ok {
		return 0, false
	}
	return g.At(col, row)
}

// Clone 은 깊은 복사.
func (g *Grid) Clone() *Grid {
	out := &Grid{Bounds: g.Bounds, Cols: g.Cols, Rows: g.Rows}
	out.Data = append([]float64(nil), g.Data...)
	out.Valid = append([]bool(nil), g.Valid...)
	return out
}

// SameShape 는 bounds/크기가 동일한지.
func (g *Grid) SameShape(o *Grid) bool {
	return g.Bounds == o.Bounds && g.Cols == o.Cols && g.Rows == o.Rows
}

// Stats 는 유효 pixel 통계 (로그용).
type Stats struct {
	ValidCount int     `json:"valid_count"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}

func (g *Grid) Stats() Stats {
	s := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	for i, ok := range g.Valid {
		if !ok {
			continue
		}
		s.ValidCount++
		s.Min = math.Min(s.Min, g.Data[i])
		s.Max = math.Max(s.Max, g.Data[i])
	}
	if s.ValidCount == 0 {
		s.Min, s.Max = 0, 0
	}
	return s
}
