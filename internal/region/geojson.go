package region

import (
	json "github.com/goccy/go-json"
)

type polygonDoc struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// MarshalJSON 은 Region 을 GeoJSON Polygon 으로 직렬화한다.
// ring 이 닫혀 있지 않으면 첫 점을 덧붙여 닫는다.
func (r Region) MarshalJSON() ([]byte, error) {
	coords := make([][2]float64, 0, len(r.ring)+1)
	for _, p := range r.ring {
		coords = append(coords, [2]float64{p.Lon, p.Lat})
	}
	if n := len(r.ring); n > 0 && r.ring[0] != r.ring[n-1] {
		coords = append(coords, [2]float64{r.ring[0].Lon, r.ring[0].Lat})
	}
	return json.Marshal(polygonDoc{Type: "Polygon", Coordinates: [][][2]float64{coords}})
}
