package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// export 결과물은 격자 크기에 따라 수백 KB ~ 수 MB 까지 커진다.
// 인코딩할 때마다 버퍼와 gzip.Writer 를 새로 만들지 않도록 재사용한다.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - gzip 인코딩 결과를 담는 임시 버퍼
	//   - 초기 용량 1MB
	//   - MaxBufferCap 초과 버퍼는 풀에 넣지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 1024*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용
	//   - DefaultCompression: export 는 속도보다 결과 크기가 중요
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
			return w
		},
	}
)

// Pool 에 되돌려줄 최대 버퍼 용량
const MaxBufferCap = 16 * 1024 * 1024 // 16MB

// GetBuffer 는 비워진 버퍼를 꺼낸다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - MaxBufferCap 이하이면 풀에 재사용
//   - 초대형 결과 버퍼는 GC 에 맡긴다
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
