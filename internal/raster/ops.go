package raster

import (
	"errors"
	"fmt"
	"math"

	"buildings-export/internal/region"
)

// MaskBy
// ------------------------------------------------------------
// height 를 presence 로 mask 한 새 grid 를 반환한다 (updateMask 와 동일 의미).
//
//	valid = height.Valid && presence.Valid && presence > threshold
//
// threshold 0 이면 "0 이 아닌 모든 presence 값 = 건물 있음" 이다.
// presence 가 0/1 boolean 이든 연속 확률이든 결과는 같고,
// 같은 presence 로 여러 번 mask 해도 결과가 변하지 않는다(idempotent).
// 입력 grid 는 수정하지 않는다.
func MaskBy(height, presence *Grid, threshold float64) (*Grid, error) {
	if !height.SameShape(presence) {
		return nil, fmt.Errorf("mask height %dx%d by presence %dx%d: %w",
			height.Cols, height.Rows, presence.Cols, presence.Rows, ErrShapeMismatch)
	}
	out := height.Clone()
	for i := range out.Valid {
		out.Valid[i] = out.Valid[i] && presence.Valid[i] && presence.Data[i] > threshold
	}
	return out, nil
}

// Clip
// ------------------------------------------------------------
// grid 를 region 의 bbox 로 잘라내고, 중심이 polygon 밖인 pixel 은 no-data 처리한다.
// 새 격자는 원본 pixel 경계에 맞춰 정렬된다(resampling 없음).
// region 과 겹치지 않으면 0x0 grid 를 반환한다.
func Clip(g *Grid, r region.Region) *Grid {
	rb := r.BBox()
	if g.Cols == 0 || g.Rows == 0 || r.IsEmpty() || !g.Bounds.Overlaps(rb) {
		return New(region.BBox{}, 0, 0)
	}
	pw, ph := g.PixelWidth(), g.PixelHeight()

	c0 := clampInt(int(math.Floor((rb.MinLon-g.Bounds.MinLon)/pw)), 0, g.Cols-1)
	c1 := clampInt(int(math.Ceil((rb.MaxLon-g.Bounds.MinLon)/pw)), c0+1, g.Cols)
	r0 := clampInt(int(math.Floor((g.Bounds.MaxLat-rb.MaxLat)/ph)), 0, g.Rows-1)
	r1 := clampInt(int(math.Ceil((g.Bounds.MaxLat-rb.MinLat)/ph)), r0+1, g.Rows)

	out := New(region.BBox{
		MinLon: g.Bounds.MinLon + float64(c0)*pw,
		MaxLon: g.Bounds.MinLon + float64(c1)*pw,
		MaxLat: g.Bounds.MaxLat - float64(r0)*ph,
		MinLat: g.Bounds.MaxLat - float64(r1)*ph,
	}, c1-c0, r1-r0)

	for row := 0; row < out.Rows; row++ {
		for col := 0; col < out.Cols; col++ {
			v, ok := g.At(col+c0, row+r0)
			if !ok || !r.Contains(out.Center(col, row)) {
				continue
			}
			out.Set(col, row, v)
		}
	}
	return out
}

// Mosaic
// ------------------------------------------------------------
// 같은 시각의 타일들을 하나로 합친다.
//   - 결과 격자: 모든 타일 bounds 의 합집합, pixel 크기는 가장 세밀한 타일 기준
//   - 결과 pixel 마다 뒤에서부터 타일을 보고 첫 유효 값을 쓴다
//     (나중에 등록된 타일이 겹치는 영역 전체에서 우선)
//   - no-data pixel 은 아래 타일 값을 가리지 않는다
func Mosaic(tiles ...*Grid) (*Grid, error) {
	if len(tiles) == 0 {
		return nil, errors.New("raster: mosaic of zero tiles")
	}
	for _, t := range tiles {
		if err := t.Check(); err != nil {
			return nil, err
		}
	}
	if len(tiles) == 1 {
		return tiles[0].Clone(), nil
	}

	bounds := tiles[0].Bounds
	pw, ph := tiles[0].PixelWidth(), tiles[0].PixelHeight()
	for _, t := range tiles[1:] {
		bounds = bounds.Union(t.Bounds)
		pw = min(pw, t.PixelWidth())
		ph = min(ph, t.PixelHeight())
	}
	cols := max(1, int(math.Round(bounds.Width()/pw)))
	rows := max(1, int(math.Round(bounds.Height()/ph)))
	out := New(bounds, cols, rows)

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			p := out.Center(col, row)
			for i := len(tiles) - 1; i >= 0; i-- {
				if v, ok := tiles[i].Sample(p); ok {
					out.Set(col, row, v)
					break
				}
			}
		}
	}
	return out, nil
}

// Resample 은 bounds 를 cols x rows 로 나눈 새 격자에 nearest-neighbour 로 값을 옮긴다.
func Resample(g *Grid, bounds region.BBox, cols, rows int) *Grid {
	out := New(bounds, cols, rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if v, ok := g.Sample(out.Center(col, row)); ok {
				out.Set(col, row, v)
			}
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
