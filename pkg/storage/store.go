// Package storage is a generic blobstore interface with a
// registration-callback factory pattern, kept from the teacher's
// graph-persistence layer and repurposed here for the Catalog Store's
// per-repository sync metadata (last_sync, last_commit).
package storage

import (
	"errors"

	"github.com/hashicorp/go-hclog"
)

var (
	log hclog.Logger

	initcallbacks []func()

	factories map[string]Factory

	dataPath string
)

// A Factory creates a store instance that can be served by the
// Catalog Store.
type Factory func(hclog.Logger) (Storage, error)

func init() {
	factories = make(map[string]Factory)
	log = hclog.L()
}

// SetLogger injects a logger into this package to allow setting up a
// logger tree.
func SetLogger(l hclog.Logger) {
	log = l
}

// SetPath tells factories where on disk to keep their data. The
// teacher's bitcask factory read this out of an environment variable;
// tinypkg's Catalog Store sets it explicitly from Config.RepoDir()
// before calling DoCallbacks.
func SetPath(p string) {
	dataPath = p
}

// Path returns the path set by SetPath, for factories to consume.
func Path() string {
	return dataPath
}

// RegisterFactory adds a named backend to the set the Catalog Store
// can ask Initialize to build.
func RegisterFactory(s string, f Factory) {
	if _, exists := factories[s]; exists {
		log.Warn("store name collision", "store", s)
		return
	}
	factories[s] = f
	log.Info("registered store backend", "store", s)
}

// RegisterCallback defers a backend's registration until storage.Path
// has been set and logging is configured — pkg/storage/bc's init()
// calls this instead of RegisterFactory directly, so DoCallbacks
// decides when the factory map actually gets populated.
func RegisterCallback(f func()) {
	initcallbacks = append(initcallbacks, f)
}

// DoCallbacks runs every deferred registration, populating the factory
// map. The Catalog Store calls this once, after SetPath, before its
// first Initialize.
func DoCallbacks() {
	for _, cb := range initcallbacks {
		cb()
	}
}

// Initialize builds the named backend, or an error if no factory was
// registered under that name.
func Initialize(s string) (Storage, error) {
	f, ok := factories[s]
	if !ok {
		log.Error("no factory registered under that name", "factory", s)
		return nil, errors.New("no factory exists with that name")
	}
	return f(log)
}
