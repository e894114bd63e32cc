// internal/worker/file_util.go
package worker

import (
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"
)

// file_util.go
// ------------------------------------------------------------
// DLQ 파일명 / export object key 규칙.
//
// DLQ 파일명:
//
//	<unix>_<instance>_<counter>.json.gz
//
// 예:
//
//	1764721594_exporter1_000042.json.gz
//
// 정렬하면 곧 시간 순 정렬이므로 DLQ 재업로드 시 오래된 파일을 먼저 처리한다.
var globalCounter uint64

// 결과물 확장자 (gzip 압축된 JSON raster 문서)
const fileExt = ".json.gz"

// NextCounter 는 1e6 에서 0 으로 돌아가는 순번.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 DLQ 파일명을 만든다.
func NewFilename(instanceID string) string {
	return fmt.Sprintf("%d_%s_%06d%s", time.Now().Unix(), instanceID, NextCounter(), fileExt)
}

// BuildKey
// ------------------------------------------------------------
// export 결과물의 저장 key.
//
//	<folder>/<fileNamePrefix>.json.gz
//
// folder 가 비어 있으면 prefix 만 사용한다. 앞뒤 "/" 는 정리한다.
func BuildKey(folder, fileNamePrefix string) string {
	folder = strings.Trim(folder, "/")
	name := strings.Trim(fileNamePrefix, "/") + fileExt
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}
