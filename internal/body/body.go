// Package body models a single-consume response stream. A Body can either be
// read once or split once with Tee into two independent handles; any other
// order is rejected with ErrConsumed so a caller cannot store a stream that has
// already been handed to the client (or vice versa).
package body

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrConsumed 表示 Body 已被读取或已被 Tee，不能再次拆分/读取。
var ErrConsumed = errors.New("body already consumed")

type state int

const (
	stateFresh state = iota
	stateReading
	stateTeed
	stateClosed
)

// Body 包装一次性可读的字节流。
type Body struct {
	mu    sync.Mutex
	src   io.ReadCloser
	state state
}

// New 接管 rc 的所有权，rc 为 nil 时视为空 Body。
func New(rc io.ReadCloser) *Body {
	if rc == nil {
		rc = io.NopCloser(bytes.NewReader(nil))
	}
	return &Body{src: rc}
}

// FromBytes 以内存数据构造 Body，常用于缓存命中与合成响应。
func FromBytes(b []byte) *Body {
	return New(io.NopCloser(bytes.NewReader(b)))
}

// Empty 返回零长度 Body。
func Empty() *Body {
	return FromBytes(nil)
}

// Read 实现 io.Reader；一旦 Tee 过便返回 ErrConsumed。
func (b *Body) Read(p []byte) (int, error) {
	b.mu.Lock()
	switch b.state {
	case stateTeed, stateClosed:
		b.mu.Unlock()
		return 0, ErrConsumed
	case stateFresh:
		b.state = stateReading
	}
	src := b.src
	b.mu.Unlock()
	return src.Read(p)
}

// Close 释放底层流。对已 Tee 的 Body 调用是 no-op，底层流由分支负责关闭。
func (b *Body) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateTeed || b.state == stateClosed {
		return nil
	}
	b.state = stateClosed
	return b.src.Close()
}

// Consumed reports whether the body can no longer be read or teed.
func (b *Body) Consumed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != stateFresh
}

// Tee 在任何读取发生前把 Body 拆成两个独立句柄，两者可以按任意顺序、
// 任意速度读取。源流中途出错时，两个分支都会在读完已缓冲数据后得到同一个错误。
func (b *Body) Tee() (*Body, *Body, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateFresh {
		return nil, nil, ErrConsumed
	}
	b.state = stateTeed

	shared := &teeSource{src: b.src, open: 2}
	left := &branch{shared: shared, id: 0}
	right := &branch{shared: shared, id: 1}
	return New(left), New(right), nil
}

// ReadAll drains and closes the body.
func (b *Body) ReadAll() ([]byte, error) {
	defer b.Close()
	return io.ReadAll(b)
}

const teeChunk = 32 * 1024

// teeSource 持有两个分支共享的缓冲区；base 是 buf[0] 对应的源偏移，
// 两个分支都读过的前缀会被丢弃。
type teeSource struct {
	mu      sync.Mutex
	src     io.ReadCloser
	buf     []byte
	base    int64
	offsets [2]int64
	err     error
	open    int
	closed  [2]bool
}

type branch struct {
	shared *teeSource
	id     int
}

func (br *branch) Read(p []byte) (int, error) {
	s := br.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed[br.id] {
		return 0, ErrConsumed
	}
	for s.offsets[br.id] == s.base+int64(len(s.buf)) && s.err == nil {
		chunk := make([]byte, teeChunk)
		n, err := s.src.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			s.err = err
		}
	}

	start := s.offsets[br.id] - s.base
	if start < int64(len(s.buf)) {
		n := copy(p, s.buf[start:])
		s.offsets[br.id] += int64(n)
		s.compact()
		return n, nil
	}
	return 0, s.err
}

func (br *branch) Close() error {
	s := br.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed[br.id] {
		return nil
	}
	s.closed[br.id] = true
	s.open--
	if s.open == 0 {
		s.buf = nil
		return s.src.Close()
	}
	s.compact()
	return nil
}

// compact 丢弃所有仍打开的分支都已读过的前缀，已关闭的分支不参与计算。
func (s *teeSource) compact() {
	low := s.base + int64(len(s.buf))
	for i := range s.offsets {
		if !s.closed[i] && s.offsets[i] < low {
			low = s.offsets[i]
		}
	}
	drop := low - s.base
	if drop <= 0 {
		return
	}
	s.buf = append([]byte(nil), s.buf[drop:]...)
	s.base = low
}
