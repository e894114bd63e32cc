// internal/model/building.go
package model

import (
	"time"

	"buildings-export/internal/raster"
	"buildings-export/internal/region"
)

// Timestamp
// ------------------------------------------------------------
// 데이터셋 레코드의 취득 시각 (system:time_start, UTC epoch milliseconds).
// 동일한 Timestamp 를 가진 타일들은 하나의 모자이크로 합쳐진다.
type Timestamp int64

// Time 은 Timestamp 를 UTC time.Time 으로 변환한다.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// Band 이름 (데이터셋 원본 band 명과 동일하게 유지)
const (
	BandPresence = "building_presence"
	BandHeight   = "building_height"
)

// LegendEntry
// ------------------------------------------------------------
// 범례 한 줄 = (색상, 라벨). 화면 구성 용도로만 존재한다.
type LegendEntry struct {
	Color string `json:"color"`
	Label string `json:"label"`
}

// JobHandle
// ------------------------------------------------------------
// 외부 export 시스템이 job 접수 시 돌려주는 불투명 식별자.
// 워크플로는 이 값을 보관만 하고 완료 여부를 조회하지 않는다.
type JobHandle struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// RasterPair
// ------------------------------------------------------------
// 하나의 Timestamp 에 대한 모자이크 결과.
// presence(0~1) 와 height(m) 두 band 를 동일한 격자로 보관한다.
// 데이터셋에서 읽어온 값이며 읽기 전용으로 취급한다.
type RasterPair struct {
	Timestamp Timestamp
	Presence  *raster.Grid
	Height    *raster.Grid
}

// ExportJob
// ------------------------------------------------------------
// 외부 export 시스템에 제출하는 job 명세.
// 접수 이후 상태(queued → running → done/failed)는 export 시스템 소유이며
// 워크플로는 추적하지 않는다.
type ExportJob struct {
	Image          *raster.Grid  `json:"-"`
	Description    string        `json:"description"`
	Folder         string        `json:"folder"`
	FileNamePrefix string        `json:"file_name_prefix"`
	Region         region.Region `json:"region"`
	Scale          float64       `json:"scale"`
	CRS            string        `json:"crs"`
	MaxPixels      float64       `json:"max_pixels"`
}
