package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink 는 export 결과물이 최종적으로 기록되는 저장소.
//   - Put: 메모리 상의 결과물
//   - PutFile: 로컬 DLQ 파일 재업로드 (retry 시 Seek(0) 가능해야 함)
//
// 재시도 정책은 구현체가 가진다.
type Sink interface {
	Put(ctx context.Context, key string, body []byte) error
	PutFile(ctx context.Context, key string, f io.ReadSeeker, size int64) error
	String() string
}

// DirSink 는 로컬 디렉토리에 key 경로 그대로 파일을 쓴다.
// S3 없이 실행하거나 테스트할 때 사용한다.
type DirSink struct {
	root string
}

func NewDirSink(root string) *DirSink {
	return &DirSink{root: root}
}

func (d *DirSink) String() string { return "dir:" + d.root }

func (d *DirSink) Put(ctx context.Context, key string, body []byte) error {
	return d.PutFile(ctx, key, bytes.NewReader(body), int64(len(body)))
}

// PutFile 은 임시 파일에 쓴 뒤 rename 해서 반쯤 쓰인 결과물이 보이지 않게 한다.
func (d *DirSink) PutFile(ctx context.Context, key string, f io.ReadSeeker, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dst := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, f)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if size >= 0 && n != size {
		return fmt.Errorf("short write %s: %d of %d bytes", key, n, size)
	}
	return os.Rename(tmp.Name(), dst)
}
