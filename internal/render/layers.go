package render

import (
	"context"
	"fmt"

	"buildings-export/internal/catalog"
	"buildings-export/internal/mapview"
	"buildings-export/internal/model"
	"buildings-export/internal/raster"
	"buildings-export/internal/timestep"

	zlog "github.com/rs/zerolog/log"
)

// Options 는 layer 렌더링 고정 파라미터.
type Options struct {
	Palette           model.Palette
	PresenceThreshold float64
}

// DefaultOptions 는 기본 height palette, threshold 0.
func DefaultOptions() Options {
	return Options{Palette: model.HeightPalette()}
}

// PresenceVis 는 presence layer 표시 파라미터 ({max: 1}).
func PresenceVis() mapview.VisParams {
	return mapview.VisParams{Min: 0, Max: 1}
}

// HeightVis 는 height layer 표시 파라미터. 값은 [0,10] 으로 clamp 된다.
func HeightVis(p model.Palette) mapview.VisParams {
	return mapview.VisParams{Min: 0, Max: 10, Palette: append([]string(nil), p.Colors...)}
}

func PresenceName(year int) string { return fmt.Sprintf("Building Presence %d", year) }
func HeightName(year int) string   { return fmt.Sprintf("Building Height %d", year) }

// RenderLayer
// ------------------------------------------------------------
// timestamp 하나에 대해
//  1. 모자이크 조회
//  2. presence band 를 "Building Presence <year>" 로 추가
//  3. height 를 presence 로 mask 해서 "Building Height <year>" 로 추가
//
// ts 는 TimestepResolver 결과에 있는 값이어야 한다.
// 조회/마스킹 실패 시 view 에는 아무것도 추가하지 않는다.
func RenderLayer(ctx context.Context, view *mapview.MapView, ds catalog.Dataset, ts model.Timestamp, opts Options) error {
	pair, err := ds.FetchMosaic(ctx, ts)
	if err != nil {
		return fmt.Errorf("fetch mosaic %d: %w", ts, err)
	}
	masked, err := raster.MaskBy(pair.Height, pair.Presence, opts.PresenceThreshold)
	if err != nil {
		return fmt.Errorf("mask height %d: %w", ts, err)
	}

	year := timestep.YearOf(ts)
	view.AddLayer(pair.Presence, PresenceVis(), PresenceName(year))
	view.AddLayer(masked, HeightVis(opts.Palette), HeightName(year))

	st := masked.Stats()
	zlog.Debug().
		Int64("ts", int64(ts)).
		Int("year", year).
		Int("building_pixels", st.ValidCount).
		Float64("max_height", st.Max).
		Msg("layers rendered")
	return nil
}
