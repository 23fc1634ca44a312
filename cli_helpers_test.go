package main

import (
	"bytes"
	"path/filepath"
	"testing"
)

// captured 保存 useBufferWriters 替换后的输出缓冲。
var captured struct {
	out *bytes.Buffer
	err *bytes.Buffer
}

// useBufferWriters 在测试期间把 stdOut/stdErr 换成内存缓冲。
func useBufferWriters(t *testing.T) {
	t.Helper()
	prevOut, prevErr := stdOut, stdErr
	prevCaptured := captured

	captured.out, captured.err = &bytes.Buffer{}, &bytes.Buffer{}
	stdOut, stdErr = captured.out, captured.err

	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
		captured = prevCaptured
	})
}

func stdOutBuffer() *bytes.Buffer { return captured.out }

func stdErrBuffer() *bytes.Buffer { return captured.err }

// configFixture 指向 internal/config/testdata；go test 以包目录（仓库根）为工作目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("internal", "config", "testdata", name))
	if err != nil {
		t.Fatalf("解析 fixture 路径失败: %v", err)
	}
	return path
}
