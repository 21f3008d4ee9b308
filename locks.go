package partstore

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// lockArena hands out one mutex per bucket file. Mutexes are created on
// first use and live as long as the arena.
type lockArena struct {
	m *xsync.MapOf[string, *sync.Mutex]
}

func newLockArena() *lockArena {
	return &lockArena{m: xsync.NewMapOf[string, *sync.Mutex]()}
}

// Get returns the mutex for name.
func (a *lockArena) Get(name string) *sync.Mutex {
	mu, _ := a.m.LoadOrCompute(name, func() *sync.Mutex { return new(sync.Mutex) })
	return mu
}

// Size returns the number of mutexes held.
func (a *lockArena) Size() int { return a.m.Size() }
