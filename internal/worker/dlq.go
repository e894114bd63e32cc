// internal/worker/dlq.go
package worker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"buildings-export/internal/config"
	"buildings-export/internal/metrics"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	zlog "github.com/rs/zerolog/log"
)

// 원래 key 를 알 수 없거나 내용이 깨진 파일을 보내는 folder
const quarantineFolder = "dlq"

const metaSuffix = ".meta.json"

// dlqMeta 는 data 파일 옆에 저장되는 메타 정보.
type dlqMeta struct {
	Key   string `json:"key"`
	JobID string `json:"job_id"`
}

// DLQManager 는 Sink 업로드 실패 결과물을 로컬 디스크에 저장하고,
// 이후 재업로드를 담당한다.
//   - 업로드 실패: gzip JSON 문서를 로컬 DLQ 에 저장 (+ 원래 key 를 meta 에 기록)
//   - 재업로드: meta 의 key 로 다시 Put
//
// TTL 판단은 "파일명 prefix 의 Unix timestamp" 기준으로 한다.
type DLQManager struct {
	cfg     config.Config
	metrics *metrics.Metrics
	sink    Sink

	// 현재 DLQ 디렉토리에 저장된 data 파일 총 바이트 수
	dlqSizeBytes int64

	now func() time.Time
}

// NewDLQManager 는 DLQ 디렉토리를 초기화하고, 기존 파일을 스캔하여
// DLQSizeBytes / DLQFilesCurrent 를 복원한다.
// 이때 meta orphan (data 없이 .meta.json 만 남은 경우) 도 정리한다.
func NewDLQManager(cfg config.Config, m *metrics.Metrics, sink Sink) *DLQManager {
	if m == nil {
		m = metrics.Nop()
	}
	_ = os.MkdirAll(cfg.DLQDir, 0o755)

	d := &DLQManager{
		cfg:     cfg,
		metrics: m,
		sink:    sink,
		now:     time.Now,
	}

	var total, count int64

	entries, err := os.ReadDir(cfg.DLQDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}

			name := e.Name()
			if strings.HasSuffix(name, metaSuffix) {
				dataName := strings.TrimSuffix(name, metaSuffix)
				if _, err := os.Stat(filepath.Join(cfg.DLQDir, dataName)); os.IsNotExist(err) {
					_ = os.Remove(filepath.Join(cfg.DLQDir, name))
				}
				continue
			}
			if name[0] == '.' {
				continue
			}

			if info, err := e.Info(); err == nil {
				total += info.Size()
				count++
			}
		}
	}

	atomic.StoreInt64(&d.dlqSizeBytes, total)
	m.DLQSizeBytes.Set(float64(total))
	m.DLQFilesCurrent.Set(float64(count))

	return d
}

// Save 는 업로드 실패한 결과물을 로컬 DLQ 에 저장한다.
// key 는 원래 업로드 대상이며 메타 파일(.meta.json)에 기록된다.
func (d *DLQManager) Save(key, jobID string, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	size := int64(len(data))
	if !d.ensureCapacity(size) {
		zlog.Error().Int64("bytes", size).Str("key", key).Msg("DLQ full, dropping export")
		d.metrics.DLQFilesDroppedTotal.Inc()
		return nil
	}

	filename := NewFilename(d.cfg.InstanceID) // "<unix>_<instance>_<counter>.json.gz"
	dataPath := filepath.Join(d.cfg.DLQDir, filename)
	metaPath := dataPath + metaSuffix

	// meta 를 먼저 쓴다. data 없는 meta 는 다음 기동 시 orphan 으로 정리된다.
	meta, err := json.Marshal(dlqMeta{Key: key, JobID: jobID})
	if err != nil {
		return err
	}
	if err := os.WriteFile(metaPath, meta, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(dataPath, data, 0o600); err != nil {
		_ = os.Remove(metaPath)
		return err
	}

	atomic.AddInt64(&d.dlqSizeBytes, size)
	d.metrics.DLQSizeBytes.Add(float64(size))
	d.metrics.DLQFilesCurrent.Inc()
	d.metrics.DLQFilesEnqueuedTotal.Inc()

	zlog.Warn().Str("key", key).Str("job_id", jobID).Str("file", filename).Msg("export spooled to DLQ")
	return nil
}

// ensureCapacity 는 DLQMaxSizeBytes 를 초과하지 않도록
// 가장 오래된 data/meta 파일부터 삭제한다.
// data 파일이 더 이상 없으면 false 를 반환한다.
func (d *DLQManager) ensureCapacity(incoming int64) bool {
	limit := d.cfg.DLQMaxSizeBytes
	if limit <= 0 {
		return true
	}

	for {
		if atomic.LoadInt64(&d.dlqSizeBytes)+incoming <= limit {
			return true
		}

		oldest := d.pickOldest()
		if oldest == "" {
			return false
		}

		d.remove(oldest)
		d.metrics.DLQFilesExpiredTotal.Inc()
		zlog.Warn().Str("file", oldest).Msg("DLQ capacity, removed oldest")
	}
}

// remove 는 data/meta 파일을 지우고 용량 지표를 갱신한다.
func (d *DLQManager) remove(name string) {
	dataPath := filepath.Join(d.cfg.DLQDir, name)

	if info, err := os.Stat(dataPath); err == nil {
		atomic.AddInt64(&d.dlqSizeBytes, -info.Size())
		d.metrics.DLQSizeBytes.Sub(float64(info.Size()))
	}
	_ = os.Remove(dataPath)
	_ = os.Remove(dataPath + metaSuffix)
	d.metrics.DLQFilesCurrent.Dec()
}

// ProcessOneCtx 는 가장 오래된 data 파일 1개를 재업로드한다.
//   - TTL(DLQMaxAge) 초과 → 삭제
//   - meta 의 key 가 있고 내용이 유효 → 원래 key 로
//   - 그 외 → dlq/ folder 로
func (d *DLQManager) ProcessOneCtx(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	name := d.pickOldest()
	if name == "" {
		return
	}

	dataPath := filepath.Join(d.cfg.DLQDir, name)
	metaPath := dataPath + metaSuffix

	info, err := os.Stat(dataPath)
	if err != nil {
		_ = os.Remove(metaPath)
		return
	}
	size := info.Size()

	// --- TTL 판단: 파일명 prefix 의 Unix timestamp 기반 ---
	if d.cfg.DLQMaxAge > 0 {
		if sec, ok := extractUnixFromFilename(name); ok {
			age := time.Duration(d.now().Unix()-sec) * time.Second
			if age > d.cfg.DLQMaxAge {
				d.remove(name)
				d.metrics.DLQFilesExpiredTotal.Inc()
				zlog.Info().Str("file", name).Dur("age", age).Msg("DLQ TTL expired")
				return
			}
		}
	}

	if ctx.Err() != nil {
		return
	}

	f, err := os.Open(dataPath)
	if err != nil {
		zlog.Warn().Err(err).Str("file", name).Msg("DLQ open failed")
		return
	}
	defer f.Close()

	var meta dlqMeta
	if raw, err := os.ReadFile(metaPath); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}

	key := meta.Key
	if key == "" || !validateFile(f, size) {
		key = BuildKey(quarantineFolder, strings.TrimSuffix(name, fileExt))
	}

	if err := d.sink.PutFile(ctx, key, f, size); err != nil {
		zlog.Warn().Err(err).Str("key", key).Msg("DLQ reupload failed")
		return
	}

	// 업로드 성공 → 로컬 파일 제거
	_ = f.Close()
	d.remove(name)
	d.metrics.DLQFilesReuploadedTotal.Inc()

	zlog.Info().Str("key", key).Str("job_id", meta.JobID).Msg("DLQ reupload success")
}

// validateFile 은 gzip 을 풀어 내용이 JSON 문서인지 검사한다.
func validateFile(f io.ReadSeeker, size int64) bool {
	if size <= 0 {
		return false
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false
	}
	defer f.Seek(0, io.SeekStart)

	gz, err := gzip.NewReader(f)
	if err != nil {
		return false
	}
	defer gz.Close()

	var doc Document
	return json.NewDecoder(gz).Decode(&doc) == nil
}

// pickOldest는 DLQ 디렉토리에 있는 data 파일 중
// 파일명 기준(=timestamp 기준)으로 가장 오래된 파일을 반환한다.
//
// ReadDir 결과 순서에 기대지 않고 직접 정렬한다.
// 파일명은 <unix>_<instance>_<counter>.json.gz 이므로 문자열 정렬 = 시간 정렬.
func (d *DLQManager) pickOldest() string {
	entries, err := os.ReadDir(d.cfg.DLQDir)
	if err != nil {
		return ""
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, metaSuffix) || name == "" || name[0] == '.' {
			continue
		}
		files = append(files, name)
	}
	if len(files) == 0 {
		return ""
	}

	slices.Sort(files)
	return files[0]
}

// extractUnixFromFilename 은 DLQ 파일명 prefix 에서 Unix seconds 를 파싱한다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
