package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"buildings-export/internal/model"
	"buildings-export/internal/region"

	json "github.com/goccy/go-json"
	_ "github.com/lib/pq"
)

// PostgresCatalog
// ------------------------------------------------------------
// building_tiles 테이블을 데이터셋으로 사용하는 구현.
//   - seq 순서 = 등록 순서 (모자이크 우선순위)
//   - band 값은 JSONB 배열 (null = no-data)
//   - 공간 필터는 SQL 에서 bbox 로 1차, Go 에서 polygon 으로 2차 판정
type PostgresCatalog struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS building_tiles (
	seq        BIGSERIAL PRIMARY KEY,
	tile_id    TEXT NOT NULL,
	time_start BIGINT NOT NULL,
	min_lon    DOUBLE PRECISION NOT NULL,
	min_lat    DOUBLE PRECISION NOT NULL,
	max_lon    DOUBLE PRECISION NOT NULL,
	max_lat    DOUBLE PRECISION NOT NULL,
	cols       INTEGER NOT NULL,
	rows       INTEGER NOT NULL,
	presence   JSONB NOT NULL,
	height     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS building_tiles_time_start_idx ON building_tiles (time_start);
`

// OpenPostgres 는 DSN 으로 연결 풀을 연다. 실제 접속 확인은 첫 쿼리 시점.
func OpenPostgres(dsn string) (*PostgresCatalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	return AttachDB(db), nil
}

func AttachDB(db *sql.DB) *PostgresCatalog { return &PostgresCatalog{db: db} }

func (p *PostgresCatalog) Close() error { return p.db.Close() }

// EnsureSchema 는 테이블/인덱스가 없으면 만든다.
func (p *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schemaSQL)
	return err
}

// Insert 는 타일 한 개를 추가한다. 호출 순서가 곧 우선순위다.
func (p *PostgresCatalog) Insert(ctx context.Context, t Tile) error {
	if err := t.check(); err != nil {
		return err
	}
	pres, err := json.Marshal(nullableOut(t.Presence.Data, t.Presence.Valid))
	if err != nil {
		return err
	}
	hgt, err := json.Marshal(nullableOut(t.Height.Data, t.Height.Valid))
	if err != nil {
		return err
	}
	b := t.Bounds()
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO building_tiles (tile_id, time_start, min_lon, min_lat, max_lon, max_lat, cols, rows, presence, height)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, int64(t.TimeStart), b.MinLon, b.MinLat, b.MaxLon, b.MaxLat,
		t.Presence.Cols, t.Presence.Rows, pres, hgt)
	return err
}

// Import 는 src 의 타일을 등록 순서 그대로 Insert 한다.
func (p *PostgresCatalog) Import(ctx context.Context, src *Catalog) (int, error) {
	n := 0
	for _, t := range src.Tiles() {
		if err := p.Insert(ctx, t); err != nil {
			return n, fmt.Errorf("import tile %s: %w", t.ID, err)
		}
		n++
	}
	return n, nil
}

func (p *PostgresCatalog) ListDistinctTimestamps(ctx context.Context, r region.Region) ([]model.Timestamp, error) {
	rb := r.BBox()
	rows, err := p.db.QueryContext(ctx,
		`SELECT time_start, min_lon, min_lat, max_lon, max_lat FROM building_tiles
		 WHERE max_lon >= $1 AND max_lat >= $2 AND min_lon <= $3 AND min_lat <= $4`,
		rb.MinLon, rb.MinLat, rb.MaxLon, rb.MaxLat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Timestamp
	for rows.Next() {
		var ts int64
		var b region.BBox
		if err := rows.Scan(&ts, &b.MinLon, &b.MinLat, &b.MaxLon, &b.MaxLat); err != nil {
			return nil, err
		}
		if r.IntersectsBBox(b) {
			out = append(out, model.Timestamp(ts))
		}
	}
	return out, rows.Err()
}

func (p *PostgresCatalog) FetchMosaic(ctx context.Context, ts model.Timestamp) (model.RasterPair, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT tile_id, min_lon, min_lat, max_lon, max_lat, cols, rows, presence, height
		 FROM building_tiles WHERE time_start = $1 ORDER BY seq`, int64(ts))
	if err != nil {
		return model.RasterPair{}, err
	}
	defer rows.Close()

	var tiles []Tile
	for rows.Next() {
		var mt manifestTile
		var pres, hgt []byte
		if err := rows.Scan(&mt.ID, &mt.Bounds.MinLon, &mt.Bounds.MinLat, &mt.Bounds.MaxLon, &mt.Bounds.MaxLat,
			&mt.Cols, &mt.Rows, &pres, &hgt); err != nil {
			return model.RasterPair{}, err
		}
		if err := json.Unmarshal(pres, &mt.Presence); err != nil {
			return model.RasterPair{}, fmt.Errorf("tile %q %s: %w", mt.ID, model.BandPresence, err)
		}
		if err := json.Unmarshal(hgt, &mt.Height); err != nil {
			return model.RasterPair{}, fmt.Errorf("tile %q %s: %w", mt.ID, model.BandHeight, err)
		}
		mt.TimeStart = int64(ts)
		t, err := mt.tile()
		if err != nil {
			return model.RasterPair{}, err
		}
		tiles = append(tiles, t)
	}
	if err := rows.Err(); err != nil {
		return model.RasterPair{}, err
	}
	return mosaicTiles(ts, tiles)
}

// nullableOut 은 no-data 를 JSON null 로 내보내기 위한 변환.
func nullableOut(data []float64, valid []bool) []*float64 {
	out := make([]*float64, len(data))
	for i := range data {
		if !valid[i] || math.IsNaN(data[i]) {
			continue
		}
		v := data[i]
		out[i] = &v
	}
	return out
}
