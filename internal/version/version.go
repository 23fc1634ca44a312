package version

import (
	"fmt"
	"runtime"
)

// Version/Commit 由 -ldflags "-X" 在构建时注入。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Info 是 /-/version 返回的构建信息。
type Info struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Go      string `json:"go"`
}

func Current() Info {
	return Info{Service: "currents", Version: Version, Commit: Commit, Go: runtime.Version()}
}

// Full 返回 CLI -version 打印的单行文本。
func Full() string {
	info := Current()
	return fmt.Sprintf("%s %s (%s, %s)", info.Service, info.Version, info.Commit, info.Go)
}
