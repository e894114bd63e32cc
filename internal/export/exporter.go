package export

import (
	"context"
	"errors"
	"fmt"

	"buildings-export/internal/catalog"
	"buildings-export/internal/model"
	"buildings-export/internal/raster"
	"buildings-export/internal/region"
	"buildings-export/internal/timestep"

	zlog "github.com/rs/zerolog/log"
)

var (
	// ErrNoTimestamps 는 빈 timestamp 목록으로 export 를 요청했을 때.
	ErrNoTimestamps = errors.New("export: no timestamps to export")
	// ErrSubmit 는 export 시스템이 job 접수를 거부했을 때.
	ErrSubmit = errors.New("export: job submission rejected")
)

// Submitter 는 외부 export job 시스템.
// Submit 은 접수 즉시 handle 을 돌려주고, 실행/완료는 관여하지 않는다.
type Submitter interface {
	Submit(ctx context.Context, job model.ExportJob) (model.JobHandle, error)
}

// Options 는 export 고정 파라미터.
type Options struct {
	Folder            string
	Scale             float64
	CRS               string
	MaxPixels         float64
	PresenceThreshold float64
}

func DefaultOptions() Options {
	return Options{
		Folder:    "GEE_Exports",
		Scale:     4,
		CRS:       "EPSG:4326",
		MaxPixels: 1e13,
	}
}

// ExportLatest
// ------------------------------------------------------------
// 가장 최근 timestamp (오름차순 목록의 마지막) 에 대해
//   - mask 된 height
//   - presence
//
// 를 region 으로 clip 하여 두 개의 export job 으로 제출한다 (height 먼저).
// 반환된 handle 의 완료 여부는 확인하지 않는다.
//
// timestamps 가 비어 있으면 ErrNoTimestamps.
func ExportLatest(ctx context.Context, ds catalog.Dataset, sub Submitter, timestamps []model.Timestamp, r region.Region, opts Options) ([]model.JobHandle, error) {
	if len(timestamps) == 0 {
		return nil, ErrNoTimestamps
	}
	latest := timestamps[len(timestamps)-1]
	year := timestep.YearOf(latest)

	pair, err := ds.FetchMosaic(ctx, latest)
	if err != nil {
		return nil, fmt.Errorf("fetch mosaic %d: %w", latest, err)
	}
	masked, err := raster.MaskBy(pair.Height, pair.Presence, opts.PresenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("mask height %d: %w", latest, err)
	}

	jobs := []model.ExportJob{
		opts.job(raster.Clip(masked, r), r, fmt.Sprintf("Building_Height_%d", year), fmt.Sprintf("building_height_%d", year)),
		opts.job(raster.Clip(pair.Presence, r), r, fmt.Sprintf("building_presence_%d", year), fmt.Sprintf("building_presence_%d", year)),
	}

	handles := make([]model.JobHandle, 0, len(jobs))
	for _, job := range jobs {
		h, err := sub.Submit(ctx, job)
		if err != nil {
			return handles, fmt.Errorf("%s: %w: %w", job.Description, ErrSubmit, err)
		}
		zlog.Info().
			Str("job_id", h.ID).
			Str("folder", job.Folder).
			Str("file", job.FileNamePrefix).
			Int("year", year).
			Msg("export job submitted")
		handles = append(handles, h)
	}
	return handles, nil
}

func (o Options) job(img *raster.Grid, r region.Region, description, prefix string) model.ExportJob {
	return model.ExportJob{
		Image:          img,
		Description:    description,
		Folder:         o.Folder,
		FileNamePrefix: prefix,
		Region:         r,
		Scale:          o.Scale,
		CRS:            o.CRS,
		MaxPixels:      o.MaxPixels,
	}
}
