package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buildings-export/internal/catalog"
	"buildings-export/internal/config"
	"buildings-export/internal/logger"
	"buildings-export/internal/mapview"
	"buildings-export/internal/metrics"
	"buildings-export/internal/server"
	"buildings-export/internal/worker"
	"buildings-export/internal/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	seed := flag.String("seed", "", "manifest to import into CATALOG_DSN before running")
	flag.Parse()

	// ====================================================================
	// Config / Logger / Metrics
	// ====================================================================
	//
	// - Config: .env + 환경변수, 오류 시 즉시 종료
	// - Logger: zerolog 전역 logger (service / instance 필드)
	// - Metrics: 전용 registry. /metrics 로 노출하고 종료 시 Summary 로 남긴다.
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("metrics init failed")
	}

	// SIGTERM / SIGINT 시 ctx 취소
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, m, *seed); err != nil {
		zlog.Error().Err(err).Msg("exporter failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, m *metrics.Metrics, seed string) error {
	// ====================================================================
	// 데이터셋 (manifest 또는 Postgres)
	// ====================================================================
	ds, closeDS, err := openDataset(ctx, cfg, seed)
	if err != nil {
		return err
	}
	defer closeDS()

	// ====================================================================
	// Export job 시스템 (Sink + DLQ)
	// ====================================================================
	//
	// EXPORT_BUCKET 이 있으면 S3, 없으면 EXPORT_DIR 아래 로컬 파일.
	// 업로드 실패분은 DLQ_DIR 에 쌓였다가 재업로드된다.
	// ====================================================================
	var sink worker.Sink
	if cfg.ExportBucket != "" {
		sink = worker.NewS3Sink(cfg, m)
	} else {
		sink = worker.NewDirSink(cfg.ExportDir)
	}
	mgr := worker.NewManager(cfg, m, sink)
	mgr.Start()
	zlog.Info().Stringer("sink", sink).Msg("export worker started")

	// ====================================================================
	// Workflow 1회 실행
	// ====================================================================
	view := mapview.New()
	wf := workflow.FromConfig(cfg, ds, mgr, view, m)

	res, runErr := wf.Run(ctx)
	if runErr == nil {
		for _, h := range res.Handles {
			zlog.Info().Str("job_id", h.ID).Str("description", h.Description).Msg("export job accepted")
		}
		if cfg.MapViewOut != "" {
			if err := writeView(view, cfg.MapViewOut); err != nil {
				runErr = err
			}
		}
	}

	// ====================================================================
	// Viewer (선택)
	// ====================================================================
	//
	// HTTP_ADDR 가 설정되어 있으면 SIGTERM 까지 /map, /jobs, /metrics 를 제공한다.
	// 실패한 실행의 /map 은 비어 있거나 일부만 있으므로 띄우지 않는다.
	// ====================================================================
	if serveViewer(cfg, runErr) {
		srv := server.NewServer(cfg.HTTPAddr, server.NewHandler(m, view, mgr).Routes())
		serve(ctx, srv)
	} else if cfg.HTTPAddr != "" {
		zlog.Warn().Err(runErr).Msg("run failed, viewer skipped")
	}

	// ====================================================================
	// Graceful shutdown
	// ====================================================================
	//
	// 큐에 남은 job 업로드를 끝낸다 (실패분은 DLQ).
	// ====================================================================
	zlog.Info().Msg("draining export jobs...")
	sctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := mgr.Shutdown(sctx); err != nil {
		zlog.Error().Err(err).Msg("export drain incomplete")
	}

	for _, st := range mgr.Statuses() {
		zlog.Info().
			Str("job_id", st.ID).
			Str("key", st.Key).
			Str("state", string(st.State)).
			Str("error", st.Error).
			Msg("export job final state")
	}
	zlog.Info().Msg("metrics\n" + m.Summary())

	return runErr
}

// openDataset 은 설정에 따라 manifest 또는 Postgres 카탈로그를 연다.
// seed 가 있으면 manifest 를 Postgres 에 먼저 적재한다.
// serveViewer 는 viewer 를 띄울지 정한다. 주소가 있고 실행이 성공해야 한다.
func serveViewer(cfg config.Config, runErr error) bool {
	return cfg.HTTPAddr != "" && runErr == nil
}

func openDataset(ctx context.Context, cfg config.Config, seed string) (catalog.Dataset, func(), error) {
	if cfg.CatalogManifest != "" {
		if seed != "" {
			return nil, nil, errors.New("-seed requires CATALOG_DSN")
		}
		c, err := catalog.LoadManifest(cfg.CatalogManifest)
		if err != nil {
			return nil, nil, err
		}
		zlog.Info().Str("manifest", cfg.CatalogManifest).Int("tiles", c.Len()).Msg("catalog loaded")
		return c, func() {}, nil
	}

	pg, err := catalog.OpenPostgres(cfg.CatalogDSN)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { _ = pg.Close() }

	if err := pg.EnsureSchema(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	if seed != "" {
		src, err := catalog.LoadManifest(seed)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		n, err := pg.Import(ctx, src)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		zlog.Info().Str("manifest", seed).Int("tiles", n).Msg("catalog seeded")
	}
	return pg, closeFn, nil
}

func writeView(view *mapview.MapView, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := view.WriteJSON(f); err != nil {
		_ = f.Close()
		return err
	}
	zlog.Info().Str("path", path).Msg("map view written")
	return f.Close()
}

// serve 는 ctx 가 끝날 때까지 서버를 돌리고 graceful 하게 멈춘다.
func serve(ctx context.Context, srv *http.Server) {
	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", srv.Addr).Msg("viewer listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error().Err(err).Msg("http server terminated")
		}
		return
	case <-ctx.Done():
		zlog.Info().Msg("shutdown signal received")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		zlog.Error().Err(err).Msg("http shutdown")
	}
}
