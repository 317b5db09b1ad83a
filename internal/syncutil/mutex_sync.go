//go:build !deadlock

// Package syncutil holds the mutexes guarding camera sessions, the watcher
// and the detection registry. They are plain sync types unless the module
// is built with -tags=deadlock, which swaps in github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex is sync.Mutex in normal builds.
//
//nolint:gocritic // embedded to expose Lock/Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex is sync.RWMutex in normal builds.
//
//nolint:gocritic // embedded to expose the read and write lock methods
type RWMutex struct {
	sync.RWMutex
}
