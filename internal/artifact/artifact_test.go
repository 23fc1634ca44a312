package artifact

import (
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		path string
		want Ref
	}{
		{"latest.json", Ref{Kind: KindLatest}},
		{"/latest.json", Ref{Kind: KindLatest}},
		{"20261019_00z/manifest.json", Ref{Kind: KindManifest, Run: "20261019_00z"}},
		{"20261019_00z/geometry.bin", Ref{Kind: KindGeometry, Run: "20261019_00z"}},
		{"20261019_00z/f003.bin", Ref{Kind: KindVelocity, Run: "20261019_00z", Hour: 3}},
		{"20261019_00z/fxyz.bin", Ref{Kind: KindUnknown}},
		{"a/b/geometry.bin", Ref{Kind: KindUnknown}},
		{"readme.txt", Ref{Kind: KindUnknown}},
	}
	for _, tc := range cases {
		if got := Classify(tc.path); got != tc.want {
			t.Fatalf("Classify(%q) = %+v, want %+v", tc.path, got, tc.want)
		}
	}
}

func TestImmutable(t *testing.T) {
	if Classify("latest.json").Immutable() {
		t.Fatalf("latest.json pointer must not be immutable")
	}
	if !Classify("r1/f000.bin").Immutable() {
		t.Fatalf("velocity artifacts are immutable")
	}
}

func TestDecodeLatestAndManifest(t *testing.T) {
	latest, err := DecodeLatest(strings.NewReader(`{"run":"20261019_00z","model_run":"2026-10-19T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("decode latest: %v", err)
	}
	if latest.Run != "20261019_00z" {
		t.Fatalf("unexpected run %s", latest.Run)
	}
	if _, err := DecodeLatest(strings.NewReader(`{}`)); err == nil {
		t.Fatalf("latest without run should fail")
	}

	manifest, err := DecodeManifest(strings.NewReader(`{
		"model_run": "2026-10-19T00:00:00Z",
		"generated_at": "2026-10-19T03:12:00Z",
		"num_elements": 1200,
		"bounds": {"lon_min": -123.1, "lon_max": -122.0, "lat_min": 47.0, "lat_max": 48.2},
		"forecast_hours": [0, 1, 2]
	}`))
	if err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.NumElements != 1200 || len(manifest.ForecastHours) != 3 {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	if VelocityFile(manifest.ForecastHours[2]) != "f002.bin" {
		t.Fatalf("unexpected velocity file name")
	}
}
