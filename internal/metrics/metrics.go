package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics 는 워크플로와 export job 시스템의 운영 지표 모음이다.
// 외부 registry 에 등록되며, 종료 시 Summary() 로 한 번에 로그로 남긴다.
type Metrics struct {
	gatherer prometheus.Gatherer

	// ======================
	// 워크플로 지표
	// ======================

	// TimestepsResolved
	// - 마지막 실행에서 선택된 timestamp 수 (0 ~ K).
	// - 0 이면 region 과 교차하는 데이터가 없어 렌더링/export 를 건너뛴 것.
	TimestepsResolved prometheus.Gauge

	// LayersRendered
	// - view 에 추가된 layer 수. timestamp 당 2 (presence + height).
	LayersRendered prometheus.Counter

	// ======================
	// Export job 지표
	// ======================

	// ExportJobsSubmitted / ExportJobsRejected
	// - Submit 접수 성공 / 거부(큐 full, pixel budget 초과 등) 횟수.
	ExportJobsSubmitted prometheus.Counter
	ExportJobsRejected  prometheus.Counter

	// ExportJobsFinished
	// - result=done|failed 로 구분된 job 종료 수.
	// - failed 는 업로드 재시도까지 모두 실패해서 DLQ 로 간 경우.
	ExportJobsFinished *prometheus.CounterVec

	// ExportJobDuration
	// - resample + encode + upload 에 걸린 시간.
	ExportJobDuration prometheus.Histogram

	// ExportBytesTotal
	// - 저장소에 성공적으로 기록된 압축 결과물 바이트 수.
	ExportBytesTotal prometheus.Counter

	// SinkPutErrorsTotal
	// - 저장소 Put 시도(attempt) 실패 횟수. 재시도마다 증가한다.
	SinkPutErrorsTotal prometheus.Counter

	// ======================
	// DLQ 지표
	// ======================

	DLQFilesEnqueuedTotal   prometheus.Counter // 업로드 실패로 로컬 DLQ 에 저장된 파일 수
	DLQFilesReuploadedTotal prometheus.Counter // DLQ 에서 재업로드 성공한 파일 수
	DLQFilesDroppedTotal    prometheus.Counter // 용량 부족으로 저장조차 못 하고 버린 파일 수
	DLQFilesExpiredTotal    prometheus.Counter // TTL / 용량 정책으로 삭제된 파일 수
	DLQFilesCurrent         prometheus.Gauge   // 현재 DLQ 파일 수
	DLQSizeBytes            prometheus.Gauge   // 현재 DLQ 전체 용량
}

// New 는 지표를 reg 에 등록한다. nil 이면 전역 registry 를 쓴다.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		gatherer: gatherer,

		TimestepsResolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workflow_timesteps_resolved",
			Help: "Number of recent timestamps selected for rendering and export.",
		}),
		LayersRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_layers_rendered_total",
			Help: "Map layers added to the view.",
		}),
		ExportJobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_jobs_submitted_total",
			Help: "Export jobs accepted by the job queue.",
		}),
		ExportJobsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_jobs_rejected_total",
			Help: "Export jobs rejected at submission.",
		}),
		ExportJobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "export_jobs_finished_total",
			Help: "Export jobs that left the running state, by result.",
		}, []string{"result"}),
		ExportJobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "export_job_duration_seconds",
			Help:    "Time spent resampling, encoding and uploading one export job.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		ExportBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_bytes_total",
			Help: "Compressed bytes written to the export sink.",
		}),
		SinkPutErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_put_errors_total",
			Help: "Failed sink put attempts, counted per retry.",
		}),
		DLQFilesEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlq_files_enqueued_total",
			Help: "Export results spooled to the local DLQ after upload failure.",
		}),
		DLQFilesReuploadedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlq_files_reuploaded_total",
			Help: "DLQ files re-uploaded successfully.",
		}),
		DLQFilesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlq_files_dropped_total",
			Help: "Export results dropped because the DLQ was full.",
		}),
		DLQFilesExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlq_files_expired_total",
			Help: "DLQ files removed by TTL or capacity policy.",
		}),
		DLQFilesCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlq_files_current",
			Help: "Files currently in the local DLQ.",
		}),
		DLQSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlq_size_bytes",
			Help: "Bytes currently held in the local DLQ.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.TimestepsResolved, m.LayersRendered,
		m.ExportJobsSubmitted, m.ExportJobsRejected, m.ExportJobsFinished,
		m.ExportJobDuration, m.ExportBytesTotal, m.SinkPutErrorsTotal,
		m.DLQFilesEnqueuedTotal, m.DLQFilesReuploadedTotal, m.DLQFilesDroppedTotal,
		m.DLQFilesExpiredTotal, m.DLQFilesCurrent, m.DLQSizeBytes,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return nil, fmt.Errorf("metrics already registered: %w", err)
			}
			return nil, err
		}
	}
	return m, nil
}

// Nop 은 어디에도 노출되지 않는 독립 registry 위의 지표.
// 지표가 필요 없는 호출자(nil 전달)를 위해 쓴다.
func Nop() *Metrics {
	return NewForTest()
}

// NewForTest 는 독립 registry 위에 지표를 만든다.
func NewForTest() *Metrics {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		panic(err)
	}
	return m
}

// Gatherer 는 /metrics 핸들러용.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.gatherer }

// Summary 는 등록된 지표를 "name{labels}=value" 줄 단위 텍스트로 만든다.
// histogram 은 _count / _sum 만 출력한다.
func (m *Metrics) Summary() string {
	families, err := m.gatherer.Gather()
	if err != nil {
		return fmt.Sprintf("gather_error=%q\n", err.Error())
	}

	var lines []string
	for _, f := range families {
		name := f.GetName()
		if !m.owns(name) {
			continue
		}
		for _, mt := range f.GetMetric() {
			key := name + labelString(mt.GetLabel())
			switch f.GetType() {
			case dto.MetricType_COUNTER:
				lines = append(lines, fmt.Sprintf("%s=%g", key, mt.GetCounter().GetValue()))
			case dto.MetricType_GAUGE:
				lines = append(lines, fmt.Sprintf("%s=%g", key, mt.GetGauge().GetValue()))
			case dto.MetricType_HISTOGRAM:
				h := mt.GetHistogram()
				lines = append(lines,
					fmt.Sprintf("%s_count=%d", key, h.GetSampleCount()),
					fmt.Sprintf("%s_sum=%g", key, h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)

	var sb strings.Builder
	sb.Grow(512)
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// owns 는 이 패키지가 등록한 지표 이름인지 (전역 registry 의 go_/process_ 제외).
func (m *Metrics) owns(name string) bool {
	for _, p := range []string{"workflow_", "export_", "sink_", "dlq_"} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func labelString(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
