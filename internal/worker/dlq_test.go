package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"buildings-export/internal/metrics"
	"buildings-export/internal/raster"
	"buildings-export/internal/region"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func encodedDoc(t *testing.T) []byte {
	t.Helper()
	g, _ := raster.FromValues(region.BBox{MaxLon: 1, MaxLat: 1}, 1, 1, []float64{5})
	data, err := NewEncoder().EncodeJSONGZ(NewDocument("d", "EPSG:4326", 4, g))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func dlqFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDLQSaveAndReupload(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.NewForTest()
	sink := newMemSink(0)
	d := NewDLQManager(cfg, m, sink)

	data := encodedDoc(t)
	if err := d.Save("GEE_Exports/building_height_2023.json.gz", "job-1", data); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := len(dlqFiles(t, cfg.DLQDir)); got != 2 {
		t.Fatalf("DLQ has %d files, want data + meta", got)
	}
	if got := testutil.ToFloat64(m.DLQFilesCurrent); got != 1 {
		t.Fatalf("DLQFilesCurrent = %v, want 1", got)
	}

	d.ProcessOneCtx(context.Background())

	if _, ok := sink.get("GEE_Exports/building_height_2023.json.gz"); !ok {
		t.Fatalf("reupload did not reach original key; objects=%v", sink.objects)
	}
	if got := dlqFiles(t, cfg.DLQDir); len(got) != 0 {
		t.Fatalf("DLQ not emptied: %v", got)
	}
	if got := testutil.ToFloat64(m.DLQFilesReuploadedTotal); got != 1 {
		t.Fatalf("DLQFilesReuploadedTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DLQSizeBytes); got != 0 {
		t.Fatalf("DLQSizeBytes = %v, want 0", got)
	}
}

func TestDLQReuploadFailureKeepsFile(t *testing.T) {
	cfg := testConfig(t)
	d := NewDLQManager(cfg, metrics.NewForTest(), newMemSink(1))

	_ = d.Save("k.json.gz", "job-1", encodedDoc(t))
	d.ProcessOneCtx(context.Background())

	if got := len(dlqFiles(t, cfg.DLQDir)); got != 2 {
		t.Fatalf("DLQ has %d files after failed reupload, want 2", got)
	}
}

func TestDLQInvalidContentGoesToQuarantine(t *testing.T) {
	cfg := testConfig(t)
	sink := newMemSink(0)
	d := NewDLQManager(cfg, metrics.NewForTest(), sink)

	_ = d.Save("k.json.gz", "job-1", []byte("not gzip"))
	name := dlqFiles(t, cfg.DLQDir)[0]
	d.ProcessOneCtx(context.Background())

	if _, ok := sink.get("k.json.gz"); ok {
		t.Fatal("invalid file uploaded to original key")
	}
	want := BuildKey(quarantineFolder, name[:len(name)-len(fileExt)])
	if _, ok := sink.get(want); !ok {
		t.Fatalf("invalid file not uploaded to %q; objects=%v", want, sink.objects)
	}
}

func TestDLQTTLExpires(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.NewForTest()
	sink := newMemSink(0)
	d := NewDLQManager(cfg, m, sink)

	_ = d.Save("k.json.gz", "job-1", encodedDoc(t))
	d.now = func() time.Time { return time.Now().Add(2 * cfg.DLQMaxAge) }
	d.ProcessOneCtx(context.Background())

	if len(sink.objects) != 0 {
		t.Fatalf("expired file was uploaded")
	}
	if got := len(dlqFiles(t, cfg.DLQDir)); got != 0 {
		t.Fatalf("DLQ has %d files, want 0", got)
	}
	if got := testutil.ToFloat64(m.DLQFilesExpiredTotal); got != 1 {
		t.Fatalf("DLQFilesExpiredTotal = %v, want 1", got)
	}
}

func TestDLQCapacityEvictsOldest(t *testing.T) {
	cfg := testConfig(t)
	data := encodedDoc(t)
	cfg.DLQMaxSizeBytes = int64(len(data)) * 2
	m := metrics.NewForTest()

	// 오래된 파일을 직접 만든다 (파일명 timestamp 가 더 작음)
	old := filepath.Join(cfg.DLQDir, fmt.Sprintf("%d_test_000001%s", time.Now().Add(-time.Minute).Unix(), fileExt))
	if err := os.WriteFile(old, data, 0o600); err != nil {
		t.Fatal(err)
	}

	d := NewDLQManager(cfg, m, newMemSink(0))
	_ = d.Save("a.json.gz", "job-a", data)
	_ = d.Save("b.json.gz", "job-b", data)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("oldest file was not evicted")
	}
	if got := testutil.ToFloat64(m.DLQFilesCurrent); got != 2 {
		t.Fatalf("DLQFilesCurrent = %v, want 2", got)
	}
}

func TestDLQDropsWhenTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.DLQMaxSizeBytes = 4
	m := metrics.NewForTest()
	d := NewDLQManager(cfg, m, newMemSink(0))

	if err := d.Save("k.json.gz", "job-1", encodedDoc(t)); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.DLQFilesDroppedTotal); got != 1 {
		t.Fatalf("DLQFilesDroppedTotal = %v, want 1", got)
	}
	if got := len(dlqFiles(t, cfg.DLQDir)); got != 0 {
		t.Fatalf("DLQ has %d files, want 0", got)
	}
}

func TestNewDLQManagerRestoresStateAndRemovesOrphans(t *testing.T) {
	cfg := testConfig(t)
	data := encodedDoc(t)

	_ = os.WriteFile(filepath.Join(cfg.DLQDir, "100_test_000001.json.gz"), data, 0o600)
	_ = os.WriteFile(filepath.Join(cfg.DLQDir, "100_test_000002.json.gz"+metaSuffix), []byte(`{}`), 0o600)

	m := metrics.NewForTest()
	NewDLQManager(cfg, m, newMemSink(0))

	if got := testutil.ToFloat64(m.DLQFilesCurrent); got != 1 {
		t.Fatalf("DLQFilesCurrent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DLQSizeBytes); got != float64(len(data)) {
		t.Fatalf("DLQSizeBytes = %v, want %d", got, len(data))
	}
	if got := dlqFiles(t, cfg.DLQDir); len(got) != 1 {
		t.Fatalf("orphan meta not removed: %v", got)
	}
}
