package server

import (
	"testing"

	"github.com/currents-hub/currents/internal/config"
	"github.com/currents-hub/currents/internal/upstream"
)

func TestRouteTableEvaluationOrder(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{
			{Name: "fallback", Kind: "info", Match: "catchall", Upstream: "https://fallback.example"},
			{Name: "broad", Kind: "info", Match: "prefix", Path: "/noaa/", Upstream: "https://broad.example"},
			{Name: "narrow", Kind: "info", Match: "prefix", Path: "/noaa/tides/stations/", Upstream: "https://narrow.example"},
			{Name: "tides", Kind: "tides", Match: "exact", Path: "/noaa/tides", Upstream: "https://tides.example"},
		},
	}
	table, err := NewRouteTable(cfg)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	cases := map[string]string{
		"/noaa/tides":                  "tides",
		"/noaa/tides/stations/9414290": "narrow",
		"/noaa/currents":               "broad",
		"/anything":                    "fallback",
	}
	for requestPath, want := range cases {
		route, ok := table.Lookup(requestPath)
		if !ok {
			t.Fatalf("%s: expected a match", requestPath)
		}
		if route.Name() != want {
			t.Fatalf("%s: expected %s, got %s", requestPath, want, route.Name())
		}
	}
}

func TestRouteTableWithoutCatchAllMisses(t *testing.T) {
	table, err := NewRouteTable(testEdgeConfig())
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	if _, ok := table.Lookup("/bogus"); ok {
		t.Fatalf("expected miss for /bogus")
	}
	if _, ok := table.Lookup("/nvs/get_values/extra"); ok {
		t.Fatalf("exact route must not match longer paths")
	}
}

func TestRouteRemainder(t *testing.T) {
	table, err := NewRouteTable(testEdgeConfig())
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	tiles, _ := table.Lookup("/tiles/a/b.png")
	if got := tiles.Remainder("/tiles/a/b.png"); got != "a/b.png" {
		t.Fatalf("unexpected remainder %q", got)
	}
	magnitude, _ := table.Lookup("/nvs/get_values")
	if got := magnitude.Remainder("/nvs/get_values"); got != "" {
		t.Fatalf("exact remainder should be empty, got %q", got)
	}
	if magnitude.Profile.FailureMode != upstream.FailureJSON {
		t.Fatalf("magnitude preset should speak json, got %s", magnitude.Profile.FailureMode)
	}
}

func TestRouteTableListKeepsConfigOrder(t *testing.T) {
	table, err := NewRouteTable(testEdgeConfig())
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	list := table.List()
	if len(list) != 5 || list[0].Config.Name != "tiles" || list[4].Config.Name != "current-data" {
		t.Fatalf("unexpected list order: %+v", list)
	}
}
