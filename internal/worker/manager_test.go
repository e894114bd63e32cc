package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"buildings-export/internal/metrics"
	"buildings-export/internal/model"
	"buildings-export/internal/raster"
	"buildings-export/internal/region"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// 약 3x3 pixel (4 m) 크기의 영역
var smallBox = region.BBox{MinLon: 10, MinLat: 50, MaxLon: 10.0001, MaxLat: 50.0001}

func testJob(t *testing.T) model.ExportJob {
	t.Helper()
	g, err := raster.FromValues(smallBox, 2, 2, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	return model.ExportJob{
		Image:          g,
		Description:    "Building_Height_2023",
		Folder:         "GEE_Exports",
		FileNamePrefix: "building_height_2023",
		Scale:          4,
		CRS:            "EPSG:4326",
		MaxPixels:      1e13,
	}
}

func shutdown(t *testing.T, mgr *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestExportShape(t *testing.T) {
	cols, rows := ExportShape(smallBox, 4)
	if cols != 3 || rows != 3 {
		t.Fatalf("ExportShape = %dx%d, want 3x3", cols, rows)
	}
	cols, rows = ExportShape(region.BBox{MaxLon: 1, MaxLat: 1}, metersPerDegree)
	if cols != 1 || rows != 1 {
		t.Fatalf("ExportShape(1 deg) = %dx%d, want 1x1", cols, rows)
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.ExportJob)
		want   error
	}{
		{"no image", func(j *model.ExportJob) { j.Image = nil }, ErrNoImage},
		{"crs", func(j *model.ExportJob) { j.CRS = "EPSG:3857" }, ErrUnsupportedCRS},
		{"scale", func(j *model.ExportJob) { j.Scale = 0 }, ErrBadScale},
		{"budget", func(j *model.ExportJob) { j.MaxPixels = 8 }, ErrPixelBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.NewForTest()
			mgr := NewManager(testConfig(t), m, newMemSink(0))

			job := testJob(t)
			tt.mutate(&job)

			_, err := mgr.Submit(context.Background(), job)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Submit err = %v, want %v", err, tt.want)
			}
			if got := testutil.ToFloat64(m.ExportJobsRejected); got != 1 {
				t.Fatalf("ExportJobsRejected = %v, want 1", got)
			}
			if len(mgr.Statuses()) != 0 {
				t.Fatalf("rejected job has a status")
			}
		})
	}
}

func TestSubmitBudgetBoundaryAccepted(t *testing.T) {
	mgr := NewManager(testConfig(t), metrics.NewForTest(), newMemSink(0))
	job := testJob(t)
	job.MaxPixels = 9 // 3x3 == budget

	if _, err := mgr.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit at budget: %v", err)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobQueue = 1
	mgr := NewManager(cfg, metrics.NewForTest(), newMemSink(0))

	if _, err := mgr.Submit(context.Background(), testJob(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Submit(context.Background(), testJob(t)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Submit err = %v, want ErrQueueFull", err)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	mgr := NewManager(testConfig(t), metrics.NewForTest(), newMemSink(0))
	mgr.Start()
	shutdown(t, mgr)

	if _, err := mgr.Submit(context.Background(), testJob(t)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Shutdown err = %v, want ErrClosed", err)
	}
}

func TestManagerExportsToSink(t *testing.T) {
	m := metrics.NewForTest()
	sink := newMemSink(0)
	mgr := NewManager(testConfig(t), m, sink)
	mgr.Start()

	h, err := mgr.Submit(context.Background(), testJob(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := uuid.Parse(h.ID); err != nil {
		t.Fatalf("handle id %q is not a uuid: %v", h.ID, err)
	}
	if h.Description != "Building_Height_2023" {
		t.Fatalf("handle description = %q", h.Description)
	}

	shutdown(t, mgr)

	st, ok := mgr.Status(h.ID)
	if !ok || st.State != StateDone {
		t.Fatalf("Status = %+v, %v, want done", st, ok)
	}
	if st.Key != "GEE_Exports/building_height_2023.json.gz" {
		t.Fatalf("Key = %q", st.Key)
	}

	data, ok := sink.get(st.Key)
	if !ok {
		t.Fatalf("nothing written at %q", st.Key)
	}
	doc := decodeDocument(t, data)
	if doc.Cols != 3 || doc.Rows != 3 {
		t.Fatalf("document %dx%d, want 3x3", doc.Cols, doc.Rows)
	}
	if doc.Data[0] == nil || *doc.Data[0] != 1 {
		t.Fatalf("top-left pixel = %v, want 1", doc.Data[0])
	}
	if doc.CRS != "EPSG:4326" || doc.Scale != 4 {
		t.Fatalf("doc crs/scale = %q/%v", doc.CRS, doc.Scale)
	}

	if got := testutil.ToFloat64(m.ExportJobsFinished.WithLabelValues("done")); got != 1 {
		t.Fatalf("finished{done} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ExportBytesTotal); got != float64(len(data)) {
		t.Fatalf("ExportBytesTotal = %v, want %d", got, len(data))
	}
}

func TestManagerFailedUploadGoesToDLQ(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.NewForTest()
	// 업로드 1회 + 이어지는 DLQ 재업로드 3회까지 실패
	sink := newMemSink(100)
	mgr := NewManager(cfg, m, sink)
	mgr.Start()

	h, err := mgr.Submit(context.Background(), testJob(t))
	if err != nil {
		t.Fatal(err)
	}
	shutdown(t, mgr)

	st, _ := mgr.Status(h.ID)
	if st.State != StateFailed || st.Error == "" {
		t.Fatalf("Status = %+v, want failed with error", st)
	}
	if got := testutil.ToFloat64(m.DLQFilesEnqueuedTotal); got != 1 {
		t.Fatalf("DLQFilesEnqueuedTotal = %v, want 1", got)
	}
	if got := len(dlqFiles(t, cfg.DLQDir)); got != 2 {
		t.Fatalf("DLQ has %d files, want data + meta", got)
	}
}

func TestManagerDLQRecoversOnNextJob(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.NewForTest()
	sink := newMemSink(1) // 첫 Put 만 실패
	mgr := NewManager(cfg, m, sink)
	mgr.Start()

	h, _ := mgr.Submit(context.Background(), testJob(t))
	shutdown(t, mgr)

	if st, _ := mgr.Status(h.ID); st.State != StateFailed {
		t.Fatalf("State = %s, want failed", st.State)
	}
	// job 직후 DLQ 처리로 원래 key 에 재업로드된다
	if _, ok := sink.get("GEE_Exports/building_height_2023.json.gz"); !ok {
		t.Fatalf("DLQ did not reupload; objects=%v", sink.objects)
	}
	if got := testutil.ToFloat64(m.DLQFilesReuploadedTotal); got != 1 {
		t.Fatalf("DLQFilesReuploadedTotal = %v, want 1", got)
	}
}

func TestStatusesInSubmitOrder(t *testing.T) {
	mgr := NewManager(testConfig(t), metrics.NewForTest(), newMemSink(0))

	a, _ := mgr.Submit(context.Background(), testJob(t))
	b, _ := mgr.Submit(context.Background(), testJob(t))

	got := mgr.Statuses()
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
		t.Fatalf("Statuses = %+v", got)
	}
	for _, s := range got {
		if s.State != StateQueued {
			t.Fatalf("State = %s, want queued", s.State)
		}
	}
	if _, ok := mgr.Status("missing"); ok {
		t.Fatal("Status(missing) found")
	}
}

func TestManagerWithoutMetrics(t *testing.T) {
	sink := newMemSink(0)
	mgr := NewManager(testConfig(t), nil, sink)
	mgr.Start()

	h, err := mgr.Submit(context.Background(), testJob(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	bad := testJob(t)
	bad.CRS = "EPSG:3857"
	if _, err := mgr.Submit(context.Background(), bad); !errors.Is(err, ErrUnsupportedCRS) {
		t.Fatalf("Submit err = %v, want ErrUnsupportedCRS", err)
	}
	shutdown(t, mgr)

	if st, _ := mgr.Status(h.ID); st.State != StateDone {
		t.Fatalf("State = %s, want done", st.State)
	}
}
