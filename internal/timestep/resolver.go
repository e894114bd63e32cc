package timestep

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"buildings-export/internal/catalog"
	"buildings-export/internal/model"
	"buildings-export/internal/region"
)

// ErrBadCount 는 count < 1 (호출자 precondition 위반).
var ErrBadCount = errors.New("timestep: count must be >= 1")

// DefaultCount 는 화면에 올릴 최근 시점 수 (K).
const DefaultCount = 5

// ResolveRecentTimestamps
// ------------------------------------------------------------
// region 과 교차하는 레코드의 timestamp 를
//  1. 중복 제거
//  2. 오름차순 정렬
//  3. 마지막 count 개만 유지 (부족하면 전부)
//
// 하여 반환한다. 결과가 비어 있어도 에러가 아니다.
// 조회 실패는 재시도 없이 그대로 전달한다.
func ResolveRecentTimestamps(ctx context.Context, ds catalog.Dataset, r region.Region, count int) ([]model.Timestamp, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrBadCount, count)
	}
	all, err := ds.ListDistinctTimestamps(ctx, r)
	if err != nil {
		return nil, err
	}
	return Latest(all, count), nil
}

// Latest 는 정렬·중복제거 후 가장 최근 count 개를 돌려준다. 입력은 수정하지 않는다.
func Latest(ts []model.Timestamp, count int) []model.Timestamp {
	sorted := slices.Clone(ts)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	if len(sorted) > count {
		sorted = sorted[len(sorted)-count:]
	}
	// 뒤쪽만 남긴 slice 가 원본 배열을 붙잡지 않도록 복사
	return slices.Clone(sorted)
}

// YearOf 는 timestamp 의 UTC 달력 연도.
func YearOf(ts model.Timestamp) int {
	return ts.Time().Year()
}
