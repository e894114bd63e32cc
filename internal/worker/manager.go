// internal/worker/manager.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"buildings-export/internal/config"
	"buildings-export/internal/metrics"
	"buildings-export/internal/model"
	"buildings-export/internal/raster"
	"buildings-export/internal/region"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// 적도 기준 1도 = 111319.49 m (EPSG:4326 출력 격자 크기 계산용)
const metersPerDegree = 111319.49079327357

var (
	ErrNoImage        = errors.New("worker: job has no image")
	ErrUnsupportedCRS = errors.New("worker: unsupported crs")
	ErrBadScale       = errors.New("worker: scale must be positive")
	ErrPixelBudget    = errors.New("worker: pixel budget exceeded")
	ErrQueueFull      = errors.New("worker: job queue full")
	ErrClosed         = errors.New("worker: manager closed")
)

// State 는 job 진행 단계.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Status 는 job 하나의 현재 상태 스냅샷.
type Status struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Key         string    `json:"key"`
	State       State     `json:"state"`
	Cols        int       `json:"cols"`
	Rows        int       `json:"rows"`
	Bytes       int       `json:"bytes,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

type queuedJob struct {
	id     string
	key    string
	extent region.BBox
	cols   int
	rows   int
	job    model.ExportJob
}

// Manager는 export job 시스템의 핵심 파이프라인이다.
// 워크플로가 Submit 한 job 을 큐에 넣고 즉시 handle 을 돌려준 뒤,
// 백그라운드 runLoop 에서
//   - export 격자로 resample
//   - gzip+JSON 인코딩
//   - Sink 업로드 (실패 시 DLQ 저장)
//
// 를 수행한다.
//
// Manager는 graceful shutdown을 지원하며,
// 큐에 들어간 job 이 모두 처리되어야 종료된다.
type Manager struct {
	cfg     config.Config
	metrics *metrics.Metrics
	sink    Sink
	dlq     *DLQManager
	encoder *Encoder

	jobCh chan queuedJob

	mu       sync.Mutex
	closed   bool
	statuses map[string]*Status
	order    []string

	// DLQ idle 처리 주기
	idle time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager는 DLQManager · Encoder를 초기화하고 job 큐를 구성한다.
// m 이 nil 이면 노출되지 않는 지표를 쓴다.
func NewManager(cfg config.Config, m *metrics.Metrics, sink Sink) *Manager {
	if m == nil {
		m = metrics.Nop()
	}
	return &Manager{
		cfg:      cfg,
		metrics:  m,
		sink:     sink,
		dlq:      NewDLQManager(cfg, m, sink),
		encoder:  NewEncoder(),
		jobCh:    make(chan queuedJob, cfg.JobQueue),
		statuses: make(map[string]*Status),
		idle:     50 * time.Millisecond,
	}
}

// Start는 runLoop goroutine 을 실행한다.
func (m *Manager) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.runLoop()
}

// Shutdown은 새 job 접수를 막고 큐에 남은 job 을 모두 처리한 뒤 반환한다.
// ctx 가 먼저 끝나면 진행 중인 업로드를 취소하고 ctx.Err() 를 돌려준다.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.jobCh)
		m.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	cancel := func() {
		if m.cancel != nil {
			m.cancel()
		}
	}
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Submit
// ------------------------------------------------------------
// job 을 검증하고 큐에 넣는다. 처리 완료를 기다리지 않는다.
//
// 검증 순서:
//  1. image 존재
//  2. CRS == EPSG:4326, scale > 0
//  3. 출력 pixel 수 <= MaxPixels
//
// 큐가 가득 차 있으면 ErrQueueFull, Shutdown 이후면 ErrClosed.
func (m *Manager) Submit(ctx context.Context, job model.ExportJob) (model.JobHandle, error) {
	if err := ctx.Err(); err != nil {
		return model.JobHandle{}, err
	}

	q, err := m.plan(job)
	if err != nil {
		m.metrics.ExportJobsRejected.Inc()
		return model.JobHandle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.metrics.ExportJobsRejected.Inc()
		return model.JobHandle{}, ErrClosed
	}

	select {
	case m.jobCh <- q:
	default:
		m.metrics.ExportJobsRejected.Inc()
		return model.JobHandle{}, ErrQueueFull
	}

	m.statuses[q.id] = &Status{
		ID:          q.id,
		Description: job.Description,
		Key:         q.key,
		State:       StateQueued,
		Cols:        q.cols,
		Rows:        q.rows,
		SubmittedAt: time.Now().UTC(),
	}
	m.order = append(m.order, q.id)
	m.metrics.ExportJobsSubmitted.Inc()

	return model.JobHandle{ID: q.id, Description: job.Description}, nil
}

// plan 은 job 을 검증하고 출력 격자를 정한다.
func (m *Manager) plan(job model.ExportJob) (queuedJob, error) {
	if job.Image == nil {
		return queuedJob{}, ErrNoImage
	}
	if job.CRS != "EPSG:4326" {
		return queuedJob{}, fmt.Errorf("%w: %q", ErrUnsupportedCRS, job.CRS)
	}
	if !(job.Scale > 0) {
		return queuedJob{}, fmt.Errorf("%w: %v", ErrBadScale, job.Scale)
	}

	extent := job.Image.Bounds
	if !job.Region.IsEmpty() {
		extent = job.Region.BBox()
	}
	cols, rows := ExportShape(extent, job.Scale)
	if float64(cols)*float64(rows) > job.MaxPixels {
		return queuedJob{}, fmt.Errorf("%w: %dx%d > %.0f", ErrPixelBudget, cols, rows, job.MaxPixels)
	}

	return queuedJob{
		id:     uuid.NewString(),
		key:    BuildKey(job.Folder, job.FileNamePrefix),
		extent: extent,
		cols:   cols,
		rows:   rows,
		job:    job,
	}, nil
}

// ExportShape 는 extent 를 scale(m) 정사각 pixel 로 덮는 격자 크기.
func ExportShape(extent region.BBox, scale float64) (cols, rows int) {
	deg := scale / metersPerDegree
	cols = int(math.Ceil(extent.Width() / deg))
	rows = int(math.Ceil(extent.Height() / deg))
	return max(cols, 0), max(rows, 0)
}

// Status 는 id 에 해당하는 job 상태를 돌려준다.
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[id]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// Statuses 는 제출 순서대로 모든 job 상태를 돌려준다.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.statuses[id])
	}
	return out
}

func (m *Manager) update(id string, fn func(*Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.statuses[id]; ok {
		fn(s)
	}
}

// runLoop는 jobCh 에서 job 을 받아 처리하고,
// job 사이사이와 idle 시에 DLQ 재업로드를 진행한다 (starvation 방지).
//
// jobCh 가 닫히면 남은 job 을 모두 처리하고 종료된다.
func (m *Manager) runLoop() {
	defer m.wg.Done()

	idle := time.NewTicker(m.idle)
	defer idle.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case q, ok := <-m.jobCh:
			if !ok {
				zlog.Info().Msg("export worker exiting")
				return
			}
			m.process(m.ctx, q)

			for i := 0; i < 3; i++ {
				m.dlq.ProcessOneCtx(m.ctx)
			}

		case <-idle.C:
			for i := 0; i < 3; i++ {
				m.dlq.ProcessOneCtx(m.ctx)
			}
		}
	}
}

// process 는 job 하나를 처리한다.
//  1. export 격자로 resample + 인코딩 (실패 시 failed, 저장할 것이 없음)
//  2. Sink 업로드 실패 → 로컬 DLQ 저장 후 failed
//  3. 성공 시 done
func (m *Manager) process(ctx context.Context, q queuedJob) {
	start := time.Now()
	m.update(q.id, func(s *Status) { s.State = StateRunning })

	logger := zlog.With().Str("job_id", q.id).Str("key", q.key).Logger()

	finish := func(err error, size int) {
		m.metrics.ExportJobDuration.Observe(time.Since(start).Seconds())
		m.update(q.id, func(s *Status) {
			s.FinishedAt = time.Now().UTC()
			s.Bytes = size
			if err != nil {
				s.State = StateFailed
				s.Error = err.Error()
				return
			}
			s.State = StateDone
		})
		if err != nil {
			m.metrics.ExportJobsFinished.WithLabelValues(string(StateFailed)).Inc()
			logger.Error().Err(err).Msg("export job failed")
			return
		}
		m.metrics.ExportJobsFinished.WithLabelValues(string(StateDone)).Inc()
		m.metrics.ExportBytesTotal.Add(float64(size))
		logger.Info().Int("bytes", size).Dur("took", time.Since(start)).Msg("export job done")
	}

	bounds := region.BBox{
		MinLon: q.extent.MinLon,
		MaxLat: q.extent.MaxLat,
	}
	deg := q.job.Scale / metersPerDegree
	bounds.MaxLon = bounds.MinLon + float64(q.cols)*deg
	bounds.MinLat = bounds.MaxLat - float64(q.rows)*deg

	out := raster.Resample(q.job.Image, bounds, q.cols, q.rows)
	doc := NewDocument(q.job.Description, q.job.CRS, q.job.Scale, out)

	data, err := m.encoder.EncodeJSONGZ(doc)
	if err != nil {
		finish(fmt.Errorf("encode: %w", err), 0)
		return
	}

	if err := m.sink.Put(ctx, q.key, data); err != nil {
		if err2 := m.dlq.Save(q.key, q.id, data); err2 != nil {
			logger.Error().Err(err2).Msg("local DLQ save failed")
		}
		finish(fmt.Errorf("upload %s: %w", m.sink, err), len(data))
		return
	}
	finish(nil, len(data))
}
