package worker

import "sync"

// keyLock hands out one mutex per bucket key so at most one recomputation
// runs concurrently for the same (project, model, endpoint, day).
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: map[string]*sync.Mutex{}}
}

func (k *keyLock) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

func (k *keyLock) Lock(key string)   { k.get(key).Lock() }
func (k *keyLock) Unlock(key string) { k.get(key).Unlock() }
