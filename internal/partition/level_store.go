package partition

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB 键布局：
//
//	p:<partition>                 # 分区标记，值为创建时间
//	e:<partition>\x00<entry key>  # gob 编码的 Snapshot
const (
	markerPrefix = "p:"
	entryPrefix  = "e:"
	nameSep      = "\x00"
)

// LevelStore 以 goleveldb 作为分区的持久化后端。
type LevelStore struct {
	db  *leveldb.DB
	now func() time.Time
}

// OpenLevelStore 在 path 处打开（或创建）分区数据库。
func OpenLevelStore(path string) (*LevelStore, error) {
	if path == "" {
		return nil, errors.New("partition path required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create partition path: %w", err)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open partition db: %w", err)
	}
	return &LevelStore{db: db, now: time.Now}, nil
}

// OpenMemoryStore 返回仅驻留内存的分区库，用于测试或无持久化需求的场景。
func OpenMemoryStore() (*LevelStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db, now: time.Now}, nil
}

func (s *LevelStore) Open(ctx context.Context, name string) (Partition, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	marker := []byte(markerPrefix + name)
	ok, err := s.db.Has(marker, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		stamp := []byte(s.now().UTC().Format(time.RFC3339Nano))
		if err := s.db.Put(marker, stamp, nil); err != nil {
			return nil, err
		}
	}
	return &levelPartition{store: s, name: name}, nil
}

func (s *LevelStore) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.db.Has([]byte(markerPrefix+name), nil)
}

func (s *LevelStore) Delete(ctx context.Context, name string) (bool, error) {
	existed, err := s.Has(ctx, name)
	if err != nil {
		return false, err
	}

	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(entryRange(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete([]byte(markerPrefix + name))
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}
	return existed, nil
}

func (s *LevelStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it := s.db.NewIterator(util.BytesPrefix([]byte(markerPrefix)), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, strings.TrimPrefix(string(it.Key()), markerPrefix))
	}
	return names, it.Error()
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

type levelPartition struct {
	store *LevelStore
	name  string
}

func (p *levelPartition) Name() string {
	return p.name
}

func (p *levelPartition) Match(ctx context.Context, key string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := p.store.db.Get(p.entryKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(raw)
}

func (p *levelPartition) Put(ctx context.Context, key string, status int, header http.Header, body io.Reader) error {
	if !IsCacheableStatus(status) {
		return fmt.Errorf("%w: %d", ErrNotCacheable, status)
	}
	var buf bytes.Buffer
	if body != nil {
		if _, err := copyWithContext(ctx, &buf, body); err != nil {
			return err
		}
	}

	snap := Snapshot{
		Status:   status,
		Header:   header.Clone(),
		Body:     buf.Bytes(),
		StoredAt: p.store.now().UTC(),
	}
	encoded, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	return p.store.db.Put(p.entryKey(key), encoded, nil)
}

func (p *levelPartition) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	entry := p.entryKey(key)
	ok, err := p.store.db.Has(entry, nil)
	if err != nil || !ok {
		return false, err
	}
	return true, p.store.db.Delete(entry, nil)
}

func (p *levelPartition) Walk(ctx context.Context, fn func(key string, snap *Snapshot) error) error {
	prefix := entryRange(p.name)
	it := p.store.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := decodeSnapshot(it.Value())
		if err != nil {
			continue
		}
		if err := fn(string(it.Key()[len(prefix):]), snap); err != nil {
			return err
		}
	}
	return it.Error()
}

func (p *levelPartition) entryKey(key string) []byte {
	return append(entryRange(p.name), key...)
}

func entryRange(name string) []byte {
	return []byte(entryPrefix + name + nameSep)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("partition name required")
	}
	if strings.Contains(name, nameSep) {
		return fmt.Errorf("invalid partition name: %q", name)
	}
	return nil
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(raw []byte) (*Snapshot, error) {
	var s Snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&s); err != nil {
		return nil, err
	}
	if s.Header == nil {
		s.Header = http.Header{}
	}
	return &s, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
