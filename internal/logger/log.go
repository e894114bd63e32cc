// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"buildings-export/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 애플리케이션 시작 시 한 번만 호출되는 로거 초기화 함수.
//
//  1. 로그 포맷 전환
//     - LOG_PRETTY=true : ConsoleWriter (터미널 가독성)
//     - LOG_PRETTY=false: JSON (수집 시스템용)
//  2. 모든 로그에 service / instance 필드 부착
//  3. LOG_SAMPLE_N > 1 이면 Debug/Info 샘플링, Warn/Error 는 항상 기록
func Init(cfg config.Config) {
	zlog.Logger = New(cfg, os.Stdout)

	// 표준 log 패키지 출력도 zerolog 로 보낸다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New 는 전역 상태를 건드리지 않고 logger 를 만든다.
func New(cfg config.Config, out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && cfg.LogLevel != "" {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	w := out
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	if cfg.LogSampleN > 1 {
		return base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}
	return base
}
