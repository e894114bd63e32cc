package render

import (
	"context"
	"errors"
	"testing"
	"time"

	"buildings-export/internal/catalog"
	"buildings-export/internal/mapview"
	"buildings-export/internal/model"
	"buildings-export/internal/raster"
	"buildings-export/internal/region"
)

func ts2021() model.Timestamp {
	return model.Timestamp(time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
}

func seeded(t *testing.T) *catalog.Catalog {
	t.Helper()
	b := region.POI().BBox()
	p, _ := raster.FromValues(b, 3, 1, []float64{1, 0, 0.4})
	h, _ := raster.FromValues(b, 3, 1, []float64{4, 6, 12})
	c := catalog.New()
	if err := c.Register(catalog.Tile{ID: "a", TimeStart: ts2021(), Presence: p, Height: h}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return c
}

func TestRenderLayerAddsPresenceThenHeight(t *testing.T) {
	view := mapview.New()
	if err := RenderLayer(context.Background(), view, seeded(t), ts2021(), DefaultOptions()); err != nil {
		t.Fatalf("RenderLayer: %v", err)
	}

	layers := view.Layers()
	if len(layers) != 2 {
		t.Fatalf("len(Layers) = %d, want 2", len(layers))
	}
	if layers[0].Name != "Building Presence 2021" || layers[1].Name != "Building Height 2021" {
		t.Fatalf("names = %q, %q", layers[0].Name, layers[1].Name)
	}
	if layers[0].Vis.Max != 1 || layers[0].Vis.Min != 0 {
		t.Fatalf("presence vis = %+v", layers[0].Vis)
	}
	hv := layers[1].Vis
	if hv.Min != 0 || hv.Max != 10 || len(hv.Palette) != 6 {
		t.Fatalf("height vis = %+v", hv)
	}

	h := layers[1].Grid
	if _, ok := h.At(1, 0); ok {
		t.Fatalf("height kept where presence is 0")
	}
	if v, ok := h.At(2, 0); !ok || v != 12 {
		t.Fatalf("height At(2,0) = %v,%v want 12,true", v, ok)
	}
	if got := hv.Color(v(t, h, 2)); got != "#cc0000" {
		t.Fatalf("12m displayed as %q, want clamped top colour", got)
	}
}

func v(t *testing.T, g *raster.Grid, col int) float64 {
	t.Helper()
	x, _ := g.At(col, 0)
	return x
}

func TestRenderLayerFetchFailureLeavesViewUntouched(t *testing.T) {
	view := mapview.New()
	err := RenderLayer(context.Background(), view, catalog.New(), ts2021(), DefaultOptions())
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(view.Layers()) != 0 {
		t.Fatalf("view has %d layers after failure", len(view.Layers()))
	}
}
