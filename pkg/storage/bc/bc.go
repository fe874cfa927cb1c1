// Package bc backs the storage.Storage interface with a bitcask
// instance, grounded directly in the teacher's pkg/storage/bc and its
// RegisterCallback/RegisterFactory registration idiom. Unlike the
// teacher, which pulls its data directory out of an environment
// variable, this factory reads storage.Path() — the Catalog Store
// calls storage.SetPath(cfg.RepoDir()) before storage.DoCallbacks().
package bc

import (
	"errors"

	"git.mills.io/prologic/bitcask"
	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/storage"
)

type bcStore struct {
	s *bitcask.Bitcask
	l hclog.Logger
}

func init() {
	storage.RegisterCallback(newFactory)
}

func newFactory() {
	storage.RegisterFactory("bitcask", newBCStore)
}

func newBCStore(l hclog.Logger) (storage.Storage, error) {
	p := storage.Path()
	if p == "" {
		l.Error("storage.SetPath must be called before the bitcask factory initializes")
		return nil, errors.New("bitcask data path unset")
	}

	opts := []bitcask.Option{
		bitcask.WithMaxKeySize(1024),
		bitcask.WithMaxValueSize(1024 * 1000 * 32), // 32,768,000 bytes
		bitcask.WithSync(true),
	}
	b, err := bitcask.Open(p, opts...)
	if err != nil {
		l.Error("error initializing bitcask", "error", err, "path", p)
		return nil, err
	}

	return &bcStore{s: b, l: l.Named("bitcask")}, nil
}

func (b *bcStore) Get(k []byte) ([]byte, error) {
	v, err := b.s.Get(k)
	switch err {
	case nil:
		return v, nil
	case bitcask.ErrKeyNotFound:
		return nil, nil
	default:
		return nil, err
	}
}

func (b *bcStore) Put(k, v []byte) error {
	return b.s.Put(k, v)
}

func (b *bcStore) Del(k []byte) error {
	return b.s.Delete(k)
}

func (b *bcStore) Close() error {
	return b.s.Close()
}
