// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config
//
// 실행 시 필요한 모든 환경 변수 값을 보관하는 구조체.
// 프로세스 시작 시점에 Load() 로 한 번 초기화되며 이후 변경하지 않는다.
type Config struct {

	// ---------------------------
	// 서비스 식별 / 로깅
	// ---------------------------

	ServiceName string // 로그 service 필드
	InstanceID  string // 실행 인스턴스 ID (호스트명, 실패 시 랜덤 hex)
	LogLevel    string // debug / info / warn / error
	LogPretty   bool   // true 면 ConsoleWriter (로컬 개발용)
	LogSampleN  uint32 // >1 이면 debug/info 를 1/N 샘플링

	// ---------------------------
	// 데이터셋 (둘 중 하나만)
	// ---------------------------

	CatalogManifest string // 타일 manifest 경로 (.json / .json.gz)
	CatalogDSN      string // Postgres DSN (building_tiles 테이블)

	// ---------------------------
	// 워크플로 파라미터
	// ---------------------------

	RecentCount       int      // 화면에 올릴 최근 시점 수 (K)
	MapZoom           int      // centerView zoom
	PresenceThreshold float64  // presence > threshold 이면 건물 있음
	LegendLabels      []string // 범례 라벨 (palette 색 수 - 1 개)

	// ---------------------------
	// Export job
	// ---------------------------

	ExportFolder    string  // 대상 폴더 (= object key prefix)
	ExportScale     float64 // 출력 pixel 크기 (m)
	ExportCRS       string
	ExportMaxPixels float64 // 출력 pixel 수 상한

	// 저장소: ExportBucket 이 있으면 S3, 없으면 ExportDir 로컬 디렉토리
	AWSRegion    string
	ExportBucket string
	ExportDir    string

	// S3 업로드 재시도는 애플리케이션 레벨(S3AppRetries)만 사용한다 (SDK retry 0).
	S3Timeout    time.Duration
	S3AppRetries int

	JobQueue int // export job 큐 크기

	// ---------------------------
	// 로컬 DLQ (업로드 실패 결과물 보관)
	// ---------------------------

	DLQDir          string
	DLQMaxAge       time.Duration
	DLQMaxSizeBytes int64

	// ---------------------------
	// 출력
	// ---------------------------

	HTTPAddr   string // 비어 있지 않으면 viewer 서버 기동
	MapViewOut string // 비어 있지 않으면 map document 를 파일로 기록
}

// Load
//
// .env 파일(있으면) 을 읽은 뒤 환경 변수로 Config 를 만든다.
// 설정 오류는 즉시 프로세스 종료(fail-fast).
func Load() Config {
	_ = godotenv.Load(".env")

	cfg, err := FromLookup(os.LookupEnv)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return cfg
}

// FromLookup 은 lookup 함수로부터 Config 를 만든다. 테스트용으로 분리.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}

	cfg := Config{
		ServiceName: e.str("SERVICE_NAME", "buildings-export"),
		InstanceID:  e.str("INSTANCE_ID", ""),
		LogLevel:    e.str("LOG_LEVEL", "info"),
		LogPretty:   e.boolean("LOG_PRETTY", false),
		LogSampleN:  uint32(e.integer("LOG_SAMPLE_N", 1)),

		CatalogManifest: e.str("CATALOG_MANIFEST", ""),
		CatalogDSN:      e.str("CATALOG_DSN", ""),

		RecentCount:       e.integer("RECENT_COUNT", 5),
		MapZoom:           e.integer("MAP_ZOOM", 14),
		PresenceThreshold: e.float("PRESENCE_THRESHOLD", 0),
		LegendLabels:      e.list("LEGEND_LABELS", []string{"1-2", "2-4", "5-7", "7-9", "10+"}),

		ExportFolder:    e.str("EXPORT_FOLDER", "GEE_Exports"),
		ExportScale:     e.float("EXPORT_SCALE", 4),
		ExportCRS:       e.str("EXPORT_CRS", "EPSG:4326"),
		ExportMaxPixels: e.float("EXPORT_MAX_PIXELS", 1e13),

		AWSRegion:    e.str("AWS_REGION", ""),
		ExportBucket: e.str("EXPORT_BUCKET", ""),
		ExportDir:    e.str("EXPORT_DIR", "exports"),

		S3Timeout:    e.duration("S3_TIMEOUT", 30*time.Second),
		S3AppRetries: e.integer("S3_APP_RETRIES", 3),

		JobQueue: e.integer("JOB_QUEUE", 8),

		DLQDir:          e.str("DLQ_DIR", "dlq"),
		DLQMaxAge:       e.duration("DLQ_MAX_AGE", 72*time.Hour),
		DLQMaxSizeBytes: e.int64("DLQ_MAX_SIZE_BYTES", 1<<30),

		HTTPAddr:   e.str("HTTP_ADDR", ""),
		MapViewOut: e.str("MAP_VIEW_OUT", ""),
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = fallbackInstanceID()
	}

	if err := e.err(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	switch {
	case c.CatalogManifest == "" && c.CatalogDSN == "":
		errs = append(errs, errors.New("one of CATALOG_MANIFEST or CATALOG_DSN is required"))
	case c.CatalogManifest != "" && c.CatalogDSN != "":
		errs = append(errs, errors.New("CATALOG_MANIFEST and CATALOG_DSN are mutually exclusive"))
	}
	if c.RecentCount < 1 {
		errs = append(errs, fmt.Errorf("RECENT_COUNT must be >= 1, got %d", c.RecentCount))
	}
	if c.ExportScale <= 0 {
		errs = append(errs, fmt.Errorf("EXPORT_SCALE must be > 0, got %v", c.ExportScale))
	}
	if c.ExportBucket != "" && c.AWSRegion == "" {
		errs = append(errs, errors.New("AWS_REGION is required with EXPORT_BUCKET"))
	}
	if c.S3AppRetries < 1 {
		errs = append(errs, fmt.Errorf("S3_APP_RETRIES must be >= 1, got %d", c.S3AppRetries))
	}
	if c.JobQueue < 1 {
		errs = append(errs, fmt.Errorf("JOB_QUEUE must be >= 1, got %d", c.JobQueue))
	}
	return errors.Join(errs...)
}

// env
//
// 공통 패턴. 값이 없으면 기본값, 형식이 잘못되면 에러를 모아 두었다가
// FromLookup 끝에서 한 번에 반환한다.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid int env %s=%q: %w", key, v, err))
		return def
	}
	return n
}

func (e *env) int64(key string, def int64) int64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid int64 env %s=%q: %w", key, v, err))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid float env %s=%q: %w", key, v, err))
		return def
	}
	return f
}

func (e *env) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid bool env %s=%q: %w", key, v, err))
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid duration env %s=%q: %w", key, v, err))
		return def
	}
	return d
}

// list 는 콤마 구분 목록. 각 항목은 trim 한다.
func (e *env) list(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return append([]string(nil), def...)
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (e *env) err() error { return errors.Join(e.errs...) }

// fallbackInstanceID
//
// 실행 인스턴스를 식별하는 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
