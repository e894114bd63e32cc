package mapview

import (
	"io"

	"buildings-export/internal/raster"

	json "github.com/goccy/go-json"
)

// Document 는 view 의 직렬화용 스냅샷이다. pixel 데이터는 싣지 않고 요약만 담는다.
type Document struct {
	Center *Center         `json:"center,omitempty"`
	Layers []LayerDocument `json:"layers"`
	Panels []Widget        `json:"panels"`
}

type LayerDocument struct {
	Name   string       `json:"name"`
	Vis    VisParams    `json:"vis"`
	Cols   int          `json:"cols"`
	Rows   int          `json:"rows"`
	Stats  raster.Stats `json:"stats"`
	Bounds [4]float64   `json:"bounds"`
}

func (m *MapView) Document() Document {
	doc := Document{Layers: []LayerDocument{}, Panels: m.Panels()}
	if c, ok := m.Center(); ok {
		doc.Center = &c
	}
	for _, l := range m.Layers() {
		ld := LayerDocument{Name: l.Name, Vis: l.Vis}
		if l.Grid != nil {
			b := l.Grid.Bounds
			ld.Cols, ld.Rows = l.Grid.Cols, l.Grid.Rows
			ld.Stats = l.Grid.Stats()
			ld.Bounds = [4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
		}
		doc.Layers = append(doc.Layers, ld)
	}
	if doc.Panels == nil {
		doc.Panels = []Widget{}
	}
	return doc
}

// WriteJSON 은 Document 를 들여쓰기 JSON 으로 쓴다.
func (m *MapView) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m.Document())
}
