package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"buildings-export/internal/model"
	"buildings-export/internal/raster"
	"buildings-export/internal/region"
)

// ErrNotFound 는 요청한 timestamp 의 타일이 하나도 없을 때.
var ErrNotFound = errors.New("catalog: no tiles for timestamp")

// Dataset
// ------------------------------------------------------------
// 건물 footprint/height 데이터셋 조회 인터페이스.
//
//   - ListDistinctTimestamps: region 과 교차하는 레코드의 timestamp 목록.
//     정렬/중복제거는 호출자 책임이다.
//   - FetchMosaic: timestamp 가 정확히 일치하는 타일들을 합친 결과.
//
// 모든 호출은 동기(blocking)이며 실패는 error 로 전달된다.
type Dataset interface {
	ListDistinctTimestamps(ctx context.Context, r region.Region) ([]model.Timestamp, error)
	FetchMosaic(ctx context.Context, ts model.Timestamp) (model.RasterPair, error)
}

// Tile 은 데이터셋 레코드 하나 (한 시각, 한 footprint).
type Tile struct {
	ID        string
	TimeStart model.Timestamp
	Presence  *raster.Grid
	Height    *raster.Grid
}

// Bounds 는 타일 extent (presence band 기준).
func (t Tile) Bounds() region.BBox { return t.Presence.Bounds }

func (t Tile) check() error {
	if t.Presence == nil || t.Height == nil {
		return fmt.Errorf("tile %q: missing band", t.ID)
	}
	if err := t.Presence.Check(); err != nil {
		return fmt.Errorf("tile %q %s: %w", t.ID, model.BandPresence, err)
	}
	if err := t.Height.Check(); err != nil {
		return fmt.Errorf("tile %q %s: %w", t.ID, model.BandHeight, err)
	}
	if !t.Presence.SameShape(t.Height) {
		return fmt.Errorf("tile %q: %w", t.ID, raster.ErrShapeMismatch)
	}
	return nil
}

// Catalog
// ------------------------------------------------------------
// 메모리 상의 타일 카탈로그. 등록 순서를 보존하며,
// 모자이크 시 나중에 등록된 타일이 겹치는 영역에서 우선한다.
type Catalog struct {
	mu    sync.RWMutex
	tiles []Tile
}

func New() *Catalog {
	return &Catalog{}
}

// Register 는 타일을 검증 후 목록 끝에 추가한다.
func (c *Catalog) Register(t Tile) error {
	if err := t.check(); err != nil {
		return err
	}
	c.mu.Lock()
	c.tiles = append(c.tiles, t)
	c.mu.Unlock()
	return nil
}

// Len 은 등록된 타일 수.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tiles)
}

// Tiles 는 등록 순서대로 타일 목록 사본을 돌려준다.
func (c *Catalog) Tiles() []Tile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.tiles)
}

func (c *Catalog) ListDistinctTimestamps(ctx context.Context, r region.Region) ([]model.Timestamp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []model.Timestamp
	for _, t := range c.tiles {
		if r.IntersectsBBox(t.Bounds()) {
			out = append(out, t.TimeStart)
		}
	}
	return out, nil
}

func (c *Catalog) FetchMosaic(ctx context.Context, ts model.Timestamp) (model.RasterPair, error) {
	if err := ctx.Err(); err != nil {
		return model.RasterPair{}, err
	}
	c.mu.RLock()
	var matched []Tile
	for _, t := range c.tiles {
		if t.TimeStart == ts {
			matched = append(matched, t)
		}
	}
	c.mu.RUnlock()

	return mosaicTiles(ts, matched)
}

// mosaicTiles 는 band 별로 Mosaic 를 수행한다. tiles 순서 = 우선순위 오름차순.
func mosaicTiles(ts model.Timestamp, tiles []Tile) (model.RasterPair, error) {
	if len(tiles) == 0 {
		return model.RasterPair{}, fmt.Errorf("timestamp %d: %w", ts, ErrNotFound)
	}
	presence := make([]*raster.Grid, len(tiles))
	height := make([]*raster.Grid, len(tiles))
	for i, t := range tiles {
		presence[i] = t.Presence
		height[i] = t.Height
	}

	p, err := raster.Mosaic(presence...)
	if err != nil {
		return model.RasterPair{}, fmt.Errorf("mosaic %s: %w", model.BandPresence, err)
	}
	h, err := raster.Mosaic(height...)
	if err != nil {
		return model.RasterPair{}, fmt.Errorf("mosaic %s: %w", model.BandHeight, err)
	}
	return model.RasterPair{Timestamp: ts, Presence: p, Height: h}, nil
}
