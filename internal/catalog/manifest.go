package catalog

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"buildings-export/internal/model"
	"buildings-export/internal/raster"
	"buildings-export/internal/region"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// manifest.go
// ------------------------------------------------------------
// 타일 manifest 파일 (JSON, 선택적으로 gzip) 을 읽어 Catalog 를 구성한다.
//
//	{"tiles":[{"id":"a","time_start":1672531200000,
//	           "bounds":{"min_lon":..,"min_lat":..,"max_lon":..,"max_lat":..},
//	           "cols":2,"rows":2,
//	           "building_presence":[1,0,null,1],
//	           "building_height":[3.5,0,null,8]}]}
//
// 배열은 row-major(북→남), null 은 no-data.
// 파일 안의 순서가 곧 등록 순서(모자이크 우선순위)다.

type manifestDoc struct {
	Tiles []manifestTile `json:"tiles"`
}

type manifestTile struct {
	ID        string      `json:"id"`
	TimeStart int64       `json:"time_start"`
	Bounds    region.BBox `json:"bounds"`
	Cols      int         `json:"cols"`
	Rows      int         `json:"rows"`
	Presence  []*float64  `json:"building_presence"`
	Height    []*float64  `json:"building_height"`
}

// LoadManifest 는 path 의 manifest 를 읽는다. ".gz" 로 끝나면 gzip 해제 후 파싱.
func LoadManifest(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	c, err := ReadManifest(r)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return c, nil
}

// ReadManifest 는 이미 열린 스트림에서 manifest 를 파싱한다.
func ReadManifest(r io.Reader) (*Catalog, error) {
	var doc manifestDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}

	c := New()
	for _, mt := range doc.Tiles {
		t, err := mt.tile()
		if err != nil {
			return nil, err
		}
		if err := c.Register(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (mt manifestTile) tile() (Tile, error) {
	p, err := raster.FromValues(mt.Bounds, mt.Cols, mt.Rows, nullable(mt.Presence))
	if err != nil {
		return Tile{}, fmt.Errorf("tile %q %s: %w", mt.ID, model.BandPresence, err)
	}
	h, err := raster.FromValues(mt.Bounds, mt.Cols, mt.Rows, nullable(mt.Height))
	if err != nil {
		return Tile{}, fmt.Errorf("tile %q %s: %w", mt.ID, model.BandHeight, err)
	}
	return Tile{ID: mt.ID, TimeStart: model.Timestamp(mt.TimeStart), Presence: p, Height: h}, nil
}

// nullable 은 JSON null 을 NaN(no-data) 로 바꾼다.
func nullable(in []*float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}
