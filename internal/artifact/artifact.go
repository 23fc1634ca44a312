// Package artifact describes the immutable, versioned forecast artifacts the
// bucket upstream publishes:
//
//	latest.json            # {"run": "...", "model_run": "..."}, short TTL
//	{run}/manifest.json    # element count, bounds, forecast hours
//	{run}/geometry.bin     # gzipped float32 lon/lat pairs
//	{run}/f{NNN}.bin       # gzipped float16 u/v pairs per forecast hour
//
// Everything except latest.json is immutable once published.
package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
)

// Kind 对 bucket 内的对象分类。
type Kind string

const (
	KindUnknown  Kind = "unknown"
	KindLatest   Kind = "latest"
	KindManifest Kind = "manifest"
	KindGeometry Kind = "geometry"
	KindVelocity Kind = "velocity"
)

const (
	LatestFile   = "latest.json"
	ManifestFile = "manifest.json"
	GeometryFile = "geometry.bin"
)

// Ref 是对一个 bucket 对象路径的解析结果。
type Ref struct {
	Kind Kind
	Run  string
	// Hour 仅对 KindVelocity 有效。
	Hour int
}

// Immutable 表示该对象发布后不再变化，可以长期缓存。
func (r Ref) Immutable() bool {
	return r.Kind != KindLatest && r.Kind != KindUnknown
}

// Classify 解析相对于 bucket 前缀的对象路径，例如 "20261019_00z/f003.bin"。
func Classify(objectPath string) Ref {
	clean := strings.TrimPrefix(path.Clean("/"+objectPath), "/")
	if clean == LatestFile {
		return Ref{Kind: KindLatest}
	}
	dir, file := path.Split(clean)
	run := strings.TrimSuffix(dir, "/")
	if run == "" || strings.Contains(run, "/") {
		return Ref{Kind: KindUnknown}
	}
	switch {
	case file == ManifestFile:
		return Ref{Kind: KindManifest, Run: run}
	case file == GeometryFile:
		return Ref{Kind: KindGeometry, Run: run}
	case strings.HasPrefix(file, "f") && strings.HasSuffix(file, ".bin"):
		hour, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(file, "f"), ".bin"))
		if err != nil || hour < 0 {
			return Ref{Kind: KindUnknown}
		}
		return Ref{Kind: KindVelocity, Run: run, Hour: hour}
	}
	return Ref{Kind: KindUnknown}
}

// ContentType 返回对象的 MIME 类型。
func (r Ref) ContentType() string {
	switch r.Kind {
	case KindLatest, KindManifest:
		return "application/json"
	case KindGeometry, KindVelocity:
		return "application/octet-stream"
	}
	return ""
}

// VelocityFile 返回某个预报小时的文件名，如 f003.bin。
func VelocityFile(hour int) string {
	return fmt.Sprintf("f%03d.bin", hour)
}

// Latest 是 latest.json 的内容。
type Latest struct {
	Run      string `json:"run"`
	ModelRun string `json:"model_run"`
}

// Bounds 是 manifest 中的地理范围。
type Bounds struct {
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
}

// Manifest 是 {run}/manifest.json 的内容。
type Manifest struct {
	ModelRun      string            `json:"model_run"`
	GeneratedAt   time.Time         `json:"generated_at"`
	NumElements   int               `json:"num_elements"`
	Bounds        Bounds            `json:"bounds"`
	ForecastHours []int             `json:"forecast_hours"`
	Format        map[string]string `json:"format,omitempty"`
}

// DecodeLatest 解析 latest.json。
func DecodeLatest(r io.Reader) (Latest, error) {
	var latest Latest
	if err := json.NewDecoder(r).Decode(&latest); err != nil {
		return Latest{}, fmt.Errorf("decode latest.json: %w", err)
	}
	if strings.TrimSpace(latest.Run) == "" {
		return Latest{}, fmt.Errorf("latest.json missing run")
	}
	return latest, nil
}

// DecodeManifest 解析 manifest.json。
func DecodeManifest(r io.Reader) (Manifest, error) {
	var manifest Manifest
	if err := json.NewDecoder(r).Decode(&manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest.json: %w", err)
	}
	return manifest, nil
}

// RunPaths 返回某次模型运行需要预热的对象相对路径。
func RunPaths(run string) []string {
	return []string{
		path.Join(run, ManifestFile),
		path.Join(run, GeometryFile),
	}
}
