package region

// Point 는 WGS84 경위도 좌표 (lon, lat 순서).
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// BBox 는 경위도 축 정렬 사각형.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Overlaps 는 두 bbox 가 경계 포함해서 겹치는지 확인한다.
func (b BBox) Overlaps(o BBox) bool {
	return b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// Contains 는 점이 bbox 안(경계 포함)에 있는지 확인한다.
func (b BBox) Contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// Union 은 두 bbox 를 모두 덮는 최소 bbox.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		MinLon: min(b.MinLon, o.MinLon),
		MinLat: min(b.MinLat, o.MinLat),
		MaxLon: max(b.MaxLon, o.MaxLon),
		MaxLat: max(b.MaxLat, o.MaxLat),
	}
}

// Width / Height 는 degree 단위 크기.
func (b BBox) Width() float64  { return b.MaxLon - b.MinLon }
func (b BBox) Height() float64 { return b.MaxLat - b.MinLat }

// Corners 는 반시계 방향 네 꼭짓점.
func (b BBox) Corners() [4]Point {
	return [4]Point{
		{b.MinLon, b.MinLat},
		{b.MaxLon, b.MinLat},
		{b.MaxLon, b.MaxLat},
		{b.MinLon, b.MaxLat},
	}
}

// Region
// ------------------------------------------------------------
// 관심 영역(polygon of interest). 외곽 ring 하나로 정의된다.
//   - 공간 필터 (데이터셋 조회)
//   - clip / export 경계
//
// 정의 이후 절대 변경하지 않는다. ring 은 well-formed 로 가정하며
// 별도 검증은 하지 않는다 (닫힘 여부와 관계없이 동작).
type Region struct {
	ring []Point
	bbox BBox
}

// New 는 ring 을 복사해 Region 을 만든다. 호출자 slice 변경은 영향을 주지 않는다.
func New(ring []Point) Region {
	r := make([]Point, len(ring))
	copy(r, ring)
	return Region{ring: r, bbox: boundsOf(r)}
}

// poi 는 원본 분석 대상 사각형 (Bengaluru 북동부).
var poi = New([]Point{
	{77.67456719486366, 13.028734308323427},
	{77.67456719486366, 13.011842258079875},
	{77.69585320560584, 13.011842258079875},
	{77.69585320560584, 13.028734308323427},
})

// POI 는 고정된 관심 영역을 반환한다.
func POI() Region { return poi }

// Ring 은 ring 좌표의 복사본을 반환한다.
func (r Region) Ring() []Point {
	out := make([]Point, len(r.ring))
	copy(out, r.ring)
	return out
}

// BBox 는 ring 의 외접 사각형.
func (r Region) BBox() BBox { return r.bbox }

// IsEmpty 는 ring 이 polygon 을 이루지 못하는 경우 true.
func (r Region) IsEmpty() bool { return len(r.ring) < 3 }

// Contains 는 even-odd ray casting 으로 점 포함 여부를 판정한다.
func (r Region) Contains(p Point) bool {
	if r.IsEmpty() || !r.bbox.Contains(p) {
		return false
	}
	inside := false
	n := len(r.ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := r.ring[i], r.ring[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) &&
			p.Lon < (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat)+a.Lon {
			inside = !inside
		}
	}
	return inside
}

// IntersectsBBox 는 타일 extent 와 region 이 교차하는지 판정한다.
//  1. bbox 1차 필터
//  2. ring 꼭짓점이 box 안에 있거나
//  3. box 꼭짓점이 polygon 안에 있거나
//  4. 변끼리 교차하면 교차로 본다.
func (r Region) IntersectsBBox(b BBox) bool {
	if r.IsEmpty() || !r.bbox.Overlaps(b) {
		return false
	}
	for _, p := range r.ring {
		if b.Contains(p) {
			return true
		}
	}
	corners := b.Corners()
	for _, c := range corners {
		if r.Contains(c) {
			return true
		}
	}
	n := len(r.ring)
	for i := 0; i < n; i++ {
		a1, a2 := r.ring[i], r.ring[(i+1)%n]
		for k := 0; k < 4; k++ {
			if segmentsIntersect(a1, a2, corners[k], corners[(k+1)%4]) {
				return true
			}
		}
	}
	return false
}

func boundsOf(ring []Point) BBox {
	if len(ring) == 0 {
		return BBox{}
	}
	b := BBox{MinLon: ring[0].Lon, MinLat: ring[0].Lat, MaxLon: ring[0].Lon, MaxLat: ring[0].Lat}
	for _, p := range ring[1:] {
		b.MinLon = min(b.MinLon, p.Lon)
		b.MinLat = min(b.MinLat, p.Lat)
		b.MaxLon = max(b.MaxLon, p.Lon)
		b.MaxLat = max(b.MaxLat, p.Lat)
	}
	return b
}

func cross(o, a, b Point) float64 {
	return (a.Lon-o.Lon)*(b.Lat-o.Lat) - (a.Lat-o.Lat)*(b.Lon-o.Lon)
}

func segmentsIntersect(p1, p2, q1, q2 Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}
