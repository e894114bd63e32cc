// internal/worker/s3_sink.go
package worker

import (
	"bytes"
	"context"
	"io"
	"log"
	"time"

	"buildings-export/internal/config"
	"buildings-export/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// putObjectAPI 는 S3 client 중 사용하는 부분만 추린 인터페이스 (테스트 대체용).
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink 는 export 결과물을 S3 로 업로드하는 Sink 이다.
// - gzip JSON 바이트 업로드 (Put)
// - 로컬 DLQ 파일 업로드 (PutFile)
//
// 모든 업로드는 컨텍스트 기반(timeout + cancel-safe)이며
// 재시도(backoff) 로직을 포함한다.
type S3Sink struct {
	cfg     config.Config
	metrics *metrics.Metrics
	client  putObjectAPI
}

// NewS3Sink 는 AWS SDK Config 를 초기화하고 S3 client 를 생성한다.
func NewS3Sink(cfg config.Config, m *metrics.Metrics) *S3Sink {
	if m == nil {
		m = metrics.Nop()
	}
	return &S3Sink{
		cfg:     cfg,
		metrics: m,
		client:  newS3Client(cfg),
	}
}

// newS3Client 는 region 과 retry 설정을 로드한다. 실패 시 즉시 종료한다.
func newS3Client(cfg config.Config) *s3.Client {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(
		context.TODO(),
		awsCfgLib.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		log.Fatalf("[FATAL] failed to load AWS config: %v", err)
	}

	// SDK retry 는 끄고 애플리케이션 retry 만 사용
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})
}

func (u *S3Sink) String() string { return "s3://" + u.cfg.ExportBucket }

// Put
// -----------------------
// 메모리에 있는 결과물을 업로드한다.
// body 는 매 재시도마다 reader 를 새로 만들어야 하므로 bytes.NewReader 사용.
func (u *S3Sink) Put(ctx context.Context, key string, body []byte) error {
	return u.withRetry(ctx, func() error {
		return u.putObject(ctx, key, bytes.NewReader(body), int64(len(body)))
	})
}

// PutFile
// -----------------------
// 로컬 DLQ 파일을 그대로 업로드한다. retry 전 Seek(0) 으로 되감는다.
func (u *S3Sink) PutFile(ctx context.Context, key string, f io.ReadSeeker, size int64) error {
	return u.withRetry(ctx, func() error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return u.putObject(ctx, key, f, size)
	})
}

// withRetry 는 S3AppRetries 회까지 exponential backoff (최대 2초) 로 재시도한다.
// shutdown-safe: ctx.Done() 시 즉시 중단.
func (u *S3Sink) withRetry(ctx context.Context, put func() error) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= u.cfg.S3AppRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := put()
		if err == nil {
			return nil
		}
		lastErr = err
		u.metrics.SinkPutErrorsTotal.Inc()

		if attempt == u.cfg.S3AppRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, 2*time.Second)
		}
	}
	return lastErr
}

// putObject 는 PutObject 1회 호출. 시도당 S3Timeout 적용.
func (u *S3Sink) putObject(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx2, cancel := context.WithTimeout(ctx, u.cfg.S3Timeout)
	defer cancel()

	_, err := u.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:          aws.String(u.cfg.ExportBucket),
		Key:             aws.String(key),
		Body:            body,
		ContentLength:   aws.Int64(size),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}
