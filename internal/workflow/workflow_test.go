package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"buildings-export/internal/catalog"
	"buildings-export/internal/config"
	"buildings-export/internal/export"
	"buildings-export/internal/legend"
	"buildings-export/internal/mapview"
	"buildings-export/internal/metrics"
	"buildings-export/internal/model"
	"buildings-export/internal/raster"
	"buildings-export/internal/region"
	"buildings-export/internal/timestep"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingSubmitter struct {
	jobs []model.ExportJob
	err  error
}

func (s *recordingSubmitter) Submit(_ context.Context, job model.ExportJob) (model.JobHandle, error) {
	if s.err != nil {
		return model.JobHandle{}, s.err
	}
	s.jobs = append(s.jobs, job)
	return model.JobHandle{ID: fmt.Sprintf("job-%d", len(s.jobs)), Description: job.Description}, nil
}

type failingDataset struct{ err error }

func (f failingDataset) ListDistinctTimestamps(context.Context, region.Region) ([]model.Timestamp, error) {
	return nil, f.err
}

func (f failingDataset) FetchMosaic(context.Context, model.Timestamp) (model.RasterPair, error) {
	return model.RasterPair{}, f.err
}

func yearTS(y int) model.Timestamp {
	return model.Timestamp(time.Date(y, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
}

func seeded(t *testing.T, b region.BBox, years ...int) *catalog.Catalog {
	t.Helper()
	c := catalog.New()
	for _, y := range years {
		p, _ := raster.FromValues(b, 2, 2, []float64{1, 0, 1, 1})
		h, _ := raster.FromValues(b, 2, 2, []float64{3, 8, 6, 12})
		if err := c.Register(catalog.Tile{ID: fmt.Sprint(y), TimeStart: yearTS(y), Presence: p, Height: h}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return c
}

func TestRunFiveYears(t *testing.T) {
	years := []int{2023, 2016, 2020, 2018, 2022}
	sub := &recordingSubmitter{}
	view := mapview.New()
	m := metrics.NewForTest()
	w := New(seeded(t, region.POI().BBox(), years...), sub, view, m)

	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantYears := []int{2016, 2018, 2020, 2022, 2023}
	if len(res.Timestamps) != len(wantYears) {
		t.Fatalf("timestamps = %v", res.Timestamps)
	}
	for i, y := range wantYears {
		if res.Timestamps[i] != yearTS(y) {
			t.Fatalf("timestamps[%d] = %v, want %d", i, res.Timestamps[i].Time(), y)
		}
	}

	layers := view.Layers()
	if len(layers) != 10 {
		t.Fatalf("len(layers) = %d, want 10", len(layers))
	}
	if layers[0].Name != "Building Presence 2016" || layers[9].Name != "Building Height 2023" {
		t.Fatalf("first/last layer = %q / %q", layers[0].Name, layers[9].Name)
	}

	if len(view.Panels()) != 1 {
		t.Fatalf("panels = %d, want 1 legend", len(view.Panels()))
	}
	c, ok := view.Center()
	if !ok || c.Zoom != 14 {
		t.Fatalf("center = %+v, %v", c, ok)
	}

	if len(res.Handles) != 2 || len(sub.jobs) != 2 {
		t.Fatalf("handles = %v", res.Handles)
	}
	if sub.jobs[0].Description != "Building_Height_2023" || sub.jobs[1].Description != "building_presence_2023" {
		t.Fatalf("jobs = %q, %q", sub.jobs[0].Description, sub.jobs[1].Description)
	}

	if got := testutil.ToFloat64(m.TimestepsResolved); got != 5 {
		t.Fatalf("TimestepsResolved = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.LayersRendered); got != 10 {
		t.Fatalf("LayersRendered = %v, want 10", got)
	}
}

func TestRunKeepsOnlyRecentCount(t *testing.T) {
	years := []int{2015, 2016, 2017, 2018, 2019, 2020, 2021}
	w := New(seeded(t, region.POI().BBox(), years...), &recordingSubmitter{}, mapview.New(), nil)

	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Timestamps) != 5 || res.Timestamps[0] != yearTS(2017) {
		t.Fatalf("timestamps = %v, want 2017..2021", res.Timestamps)
	}
}

func TestRunSingleYear(t *testing.T) {
	sub := &recordingSubmitter{}
	view := mapview.New()
	w := New(seeded(t, region.POI().BBox(), 2021), sub, view, nil)

	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Timestamps) != 1 || len(view.Layers()) != 2 {
		t.Fatalf("timestamps=%d layers=%d", len(res.Timestamps), len(view.Layers()))
	}
	if sub.jobs[0].FileNamePrefix != "building_height_2021" || sub.jobs[1].FileNamePrefix != "building_presence_2021" {
		t.Fatalf("prefixes = %q, %q", sub.jobs[0].FileNamePrefix, sub.jobs[1].FileNamePrefix)
	}
}

func TestRunNoIntersectingImagery(t *testing.T) {
	far := region.BBox{MinLon: 100, MinLat: -10, MaxLon: 101, MaxLat: -9}
	sub := &recordingSubmitter{}
	view := mapview.New()
	w := New(seeded(t, far, 2020), sub, view, nil)

	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Timestamps) != 0 || len(view.Layers()) != 0 || len(sub.jobs) != 0 {
		t.Fatalf("ts=%d layers=%d jobs=%d, want all 0", len(res.Timestamps), len(view.Layers()), len(sub.jobs))
	}
	if len(view.Panels()) != 1 {
		t.Fatalf("legend missing on empty run")
	}
	if _, ok := view.Center(); !ok {
		t.Fatalf("view not centered on empty run")
	}
}

func TestRunQueryError(t *testing.T) {
	boom := errors.New("boom")
	view := mapview.New()
	w := New(failingDataset{err: boom}, &recordingSubmitter{}, view, nil)

	_, err := w.Run(context.Background())
	if !errors.Is(err, ErrQuery) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrQuery wrapping boom", err)
	}
	if len(view.Layers()) != 0 || len(view.Panels()) != 0 {
		t.Fatalf("view modified after query error")
	}
}

func TestRunBadCountIsNotQueryError(t *testing.T) {
	view := mapview.New()
	w := New(seeded(t, region.POI().BBox(), 2022), &recordingSubmitter{}, view, nil)
	w.Count = 0

	_, err := w.Run(context.Background())
	if !errors.Is(err, timestep.ErrBadCount) {
		t.Fatalf("err = %v, want ErrBadCount", err)
	}
	if errors.Is(err, ErrQuery) {
		t.Fatalf("err = %v, bad count reported as query failure", err)
	}
	if len(view.Layers()) != 0 || len(view.Panels()) != 0 {
		t.Fatalf("view modified after bad count")
	}
}

func TestRunSubmitError(t *testing.T) {
	rejected := errors.New("queue full")
	w := New(seeded(t, region.POI().BBox(), 2022), &recordingSubmitter{err: rejected}, mapview.New(), nil)

	_, err := w.Run(context.Background())
	if !errors.Is(err, export.ErrSubmit) || !errors.Is(err, rejected) {
		t.Fatalf("err = %v, want ErrSubmit wrapping cause", err)
	}
}

func TestRunLabelMismatch(t *testing.T) {
	w := New(seeded(t, region.POI().BBox(), 2022), &recordingSubmitter{}, mapview.New(), nil)
	w.Labels = []string{"only one"}

	if _, err := w.Run(context.Background()); !errors.Is(err, legend.ErrLabelMismatch) {
		t.Fatalf("err = %v, want ErrLabelMismatch", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Config{
		RecentCount:       3,
		MapZoom:           12,
		PresenceThreshold: 0.5,
		LegendLabels:      []string{"a", "b", "c", "d", "e"},
		ExportFolder:      "out",
		ExportScale:       10,
		ExportCRS:         "EPSG:4326",
		ExportMaxPixels:   1e9,
	}
	w := FromConfig(cfg, nil, nil, mapview.New(), nil)

	if w.Count != 3 || w.Zoom != 12 || w.Labels[0] != "a" {
		t.Fatalf("workflow = %+v", w)
	}
	if w.Render.PresenceThreshold != 0.5 || w.Export.PresenceThreshold != 0.5 {
		t.Fatalf("threshold not applied")
	}
	if w.Export.Folder != "out" || w.Export.Scale != 10 {
		t.Fatalf("export = %+v", w.Export)
	}
}

func TestFromConfigBreakpointLabels(t *testing.T) {
	cfg := config.Config{RecentCount: 5, MapZoom: 14, ExportScale: 4, LegendLabels: []string{BreakpointLabelsKey}}
	w := FromConfig(cfg, nil, nil, mapview.New(), nil)

	want := []string{"1-2", "2-4", "4-7", "7-9", "9-10"}
	if len(w.Labels) != len(want) {
		t.Fatalf("Labels = %v, want %v", w.Labels, want)
	}
	for i := range want {
		if w.Labels[i] != want[i] {
			t.Fatalf("Labels = %v, want %v", w.Labels, want)
		}
	}
}
