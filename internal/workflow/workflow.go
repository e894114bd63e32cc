package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"buildings-export/internal/catalog"
	"buildings-export/internal/config"
	"buildings-export/internal/export"
	"buildings-export/internal/legend"
	"buildings-export/internal/mapview"
	"buildings-export/internal/metrics"
	"buildings-export/internal/model"
	"buildings-export/internal/region"
	"buildings-export/internal/render"
	"buildings-export/internal/timestep"

	zlog "github.com/rs/zerolog/log"
)

// ErrQuery 는 데이터셋에서 timestamp 목록을 가져오지 못했을 때.
var ErrQuery = errors.New("workflow: dataset query failed")

// Workflow
// ------------------------------------------------------------
// 한 번의 실행 흐름:
//
//  1. region 과 교차하는 최근 Count 개 timestamp 조회
//  2. timestamp 마다 presence / height layer 렌더링 (오름차순)
//  3. region 중심으로 view 이동
//  4. 범례 panel 추가
//  5. 가장 최근 timestamp 의 height / presence export job 제출
//
// timestamp 가 하나도 없으면 3, 4 만 수행하고 정상 종료한다.
// 어느 단계든 실패하면 즉시 중단하며 재시도하지 않는다.
type Workflow struct {
	Dataset   catalog.Dataset
	Submitter export.Submitter
	View      *mapview.MapView
	Metrics   *metrics.Metrics

	Region  region.Region
	Count   int
	Zoom    int
	Palette model.Palette
	Labels  []string

	Render render.Options
	Export export.Options
}

// Result 는 실행 결과. Handles 는 제출 순서 (height, presence).
type Result struct {
	Timestamps []model.Timestamp
	Handles    []model.JobHandle
}

// New 는 기본 상수(POI, K=5, zoom 14, 높이 palette, 기본 라벨)로 채운 Workflow.
func New(ds catalog.Dataset, sub export.Submitter, view *mapview.MapView, m *metrics.Metrics) *Workflow {
	palette := model.HeightPalette()
	rOpts := render.Options{Palette: palette}

	return &Workflow{
		Dataset:   ds,
		Submitter: sub,
		View:      view,
		Metrics:   m,
		Region:    region.POI(),
		Count:     timestep.DefaultCount,
		Zoom:      14,
		Palette:   palette,
		Labels:    legend.DefaultLabels(),
		Render:    rOpts,
		Export:    export.DefaultOptions(),
	}
}

// LEGEND_LABELS 에 이 값만 주면 palette breakpoint 에서 라벨을 만든다.
const BreakpointLabelsKey = "breakpoints"

// FromConfig 는 config 값으로 기본값을 덮어쓴다.
func FromConfig(cfg config.Config, ds catalog.Dataset, sub export.Submitter, view *mapview.MapView, m *metrics.Metrics) *Workflow {
	w := New(ds, sub, view, m)
	w.Count = cfg.RecentCount
	w.Zoom = cfg.MapZoom
	switch {
	case len(cfg.LegendLabels) == 1 && cfg.LegendLabels[0] == BreakpointLabelsKey:
		w.Labels = legend.BreakpointLabels(w.Palette)
	case len(cfg.LegendLabels) > 0:
		w.Labels = cfg.LegendLabels
	}

	w.Render.PresenceThreshold = cfg.PresenceThreshold
	w.Export = export.Options{
		Folder:            cfg.ExportFolder,
		Scale:             cfg.ExportScale,
		CRS:               cfg.ExportCRS,
		MaxPixels:         cfg.ExportMaxPixels,
		PresenceThreshold: cfg.PresenceThreshold,
	}
	return w
}

// Run 은 workflow 를 한 번 실행한다.
func (w *Workflow) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	// 잘못된 count 는 조회 실패가 아니라 설정 오류
	if w.Count < 1 {
		return Result{}, fmt.Errorf("workflow: %w, got %d", timestep.ErrBadCount, w.Count)
	}

	ts, err := timestep.ResolveRecentTimestamps(ctx, w.Dataset, w.Region, w.Count)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	res := Result{Timestamps: ts}
	if w.Metrics != nil {
		w.Metrics.TimestepsResolved.Set(float64(len(ts)))
	}
	zlog.Info().Int("count", len(ts)).Msg("timestamps resolved")

	for _, t := range ts {
		if err := render.RenderLayer(ctx, w.View, w.Dataset, t, w.Render); err != nil {
			return res, fmt.Errorf("render %d: %w", timestep.YearOf(t), err)
		}
		if w.Metrics != nil {
			w.Metrics.LayersRendered.Add(2)
		}
	}

	w.View.CenterView(w.Region, w.Zoom)

	panel, entries, err := legend.BuildLegend(w.Palette, w.Labels)
	if err != nil {
		return res, fmt.Errorf("legend: %w", err)
	}
	w.View.AddLegendPanel(panel)
	zlog.Debug().Int("entries", len(entries)).Msg("legend added")

	if len(ts) == 0 {
		zlog.Warn().Msg("no imagery intersects region, export skipped")
		return res, nil
	}

	handles, err := export.ExportLatest(ctx, w.Dataset, w.Submitter, ts, w.Region, w.Export)
	res.Handles = handles
	if err != nil {
		return res, err
	}

	zlog.Info().
		Int("layers", len(w.View.Layers())).
		Int("jobs", len(handles)).
		Dur("took", time.Since(start)).
		Msg("workflow complete")
	return res, nil
}
