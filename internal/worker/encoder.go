package worker

import (
	"math"

	"buildings-export/internal/pool"
	"buildings-export/internal/raster"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// Document
// ------------------------------------------------------------
// export 결과물 포맷 (gzip 압축 JSON).
//   - Transform: GDAL geotransform [originLon, pixelW, 0, originLat, 0, -pixelH]
//   - Data: row-major, no-data 는 null
type Document struct {
	Description string     `json:"description"`
	CRS         string     `json:"crs"`
	Scale       float64    `json:"scale"`
	Transform   [6]float64 `json:"transform"`
	Cols        int        `json:"cols"`
	Rows        int        `json:"rows"`
	Data        []*float64 `json:"data"`
}

// NewDocument 는 grid 를 문서 형태로 바꾼다.
func NewDocument(description, crs string, scale float64, g *raster.Grid) Document {
	// 빈 격자는 pixel 크기 0 (NaN 은 JSON 으로 쓸 수 없음)
	var pw, ph float64
	if g.Cols > 0 && g.Rows > 0 {
		pw, ph = g.PixelWidth(), g.PixelHeight()
	}
	doc := Document{
		Description: description,
		CRS:         crs,
		Scale:       scale,
		Transform:   [6]float64{g.Bounds.MinLon, pw, 0, g.Bounds.MaxLat, 0, -ph},
		Cols:        g.Cols,
		Rows:        g.Rows,
		Data:        make([]*float64, g.Len()),
	}
	for i := range g.Data {
		if !g.Valid[i] || math.IsNaN(g.Data[i]) {
			continue
		}
		v := g.Data[i]
		doc.Data[i] = &v
	}
	return doc
}

// Encoder 는 Document 를 JSON → gzip 으로 직렬화한다.
//   - goccy/go-json 인코딩
//   - gzip.Writer + bytes.Buffer 재사용(pool 기반)
//   - 결과는 새 []byte 로 복사해 호출자에게 소유권을 넘김
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeJSONGZ 는 v 를 JSON 으로 인코딩한 뒤 gzip 압축해 반환한다.
func (e *Encoder) EncodeJSONGZ(v any) ([]byte, error) {
	buf := pool.GetBuffer()

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)

	if err := json.NewEncoder(gz).Encode(v); err != nil {
		_ = gz.Close()
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
		return nil, err
	}

	// Close() 시 gzip footer 까지 기록되어 스트림이 완성된다.
	if err := gz.Close(); err != nil {
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
		return nil, err
	}
	pool.GzipPool.Put(gz)

	// pool 버퍼는 재사용되므로 그대로 반환하면 안 됨
	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)

	pool.PutBuffer(buf)
	return data, nil
}
