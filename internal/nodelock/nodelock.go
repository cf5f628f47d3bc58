// Package nodelock implements the NodeLock (§3/§4.E): the
// writer-preferred, multi-reader lock a tree traversal acquires per
// visited node. It supports both thread-held reads (which block and
// update a counter) and stamped optimistic reads that take no read lock,
// plus a bounded pool that recycles lock objects for nodes that have gone
// idle.
//
// Per §9's design note, this is built directly on a mutex and two
// condition variables rather than sync.RWMutex, because the "prior"
// reader mode needs to selectively bypass the waiting-writer starvation
// check. The stamp counter lives under the same mutex: StampedRead and
// ValidateStamp hold it briefly, but never wait for a writer to finish.
package nodelock

import "sync"

// Lock is one node's reader/writer lock plus its stamp counter.
type Lock struct {
	mu   sync.Mutex
	cond *condPair

	readers        int64
	writer         bool
	waitingWriters uint32
	stampCounter   uint64
}

// condPair gives writers and readers their own wakeup channel over the
// same mutex, so Unlock can implement "wake one waiting writer first,
// then all readers" instead of a single indiscriminate broadcast.
type condPair struct {
	writerCond *sync.Cond
	readerCond *sync.Cond
}

// New creates an idle lock, ready for immediate use.
func New() *Lock {
	l := &Lock{}
	l.cond = &condPair{
		writerCond: sync.NewCond(&l.mu),
		readerCond: sync.NewCond(&l.mu),
	}
	return l
}

// reset restores a lock to its just-constructed state so the Pool can
// hand it to a different node without any ABA hazard: a reused lock has
// stamp_counter = 0 again, and a caller only ever validates a stamp
// against the same Lock value it received it from (§4.E "Lock
// pool").
func (l *Lock) reset() {
	l.readers = 0
	l.writer = false
	l.waitingWriters = 0
	l.stampCounter = 0
}

// RLock acquires a thread-held read. It blocks while a writer holds the
// lock, or while writers are queued unless prior is true — prior bypasses
// the waiting-writer starvation check, used on hot ancestors during
// traversal so a slow writer deeper in the tree cannot stall the whole
// path (§4.E).
func (l *Lock) RLock(prior bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.writer || (!prior && l.waitingWriters > 0) {
		l.cond.readerCond.Wait()
	}
	l.readers++
}

// RUnlock releases a thread-held read.
func (l *Lock) RUnlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.readers--
	if l.readers == 0 {
		l.wakeNext()
	}
}

// Lock acquires the write lock. It blocks until there are no readers and
// no other writer, then advances the stamp counter, invalidating every
// stamp a StampedRead caller might still be holding.
func (l *Lock) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.waitingWriters++
	for l.readers != 0 || l.writer {
		l.cond.writerCond.Wait()
	}
	l.waitingWriters--
	l.writer = true
	l.stampCounter++
}

// Unlock releases the write lock and advances the stamp counter again, so
// a stamp issued while the writer held the lock no longer validates. It
// wakes one waiting writer first if any are queued; only when none are
// does it wake every blocked reader (§4.E "Unlocking a writer wakes one
// waiting writer first, then all readers").
func (l *Lock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer = false
	l.stampCounter++
	l.wakeNext()
}

// wakeNext implements the writer-preferred wakeup order described above.
// Caller must hold l.mu.
func (l *Lock) wakeNext() {
	if l.waitingWriters > 0 {
		l.cond.writerCond.Signal()
		return
	}
	l.cond.readerCond.Broadcast()
}

// StampedRead returns the lock's current stamp without waiting for a
// writer or touching the reader count. The caller reads whatever it
// needs, then calls ValidateStamp; on failure it must fall back to RLock.
func (l *Lock) StampedRead() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stampCounter
}

// ValidateStamp reports whether stamp is still current — i.e. no writer
// holds the lock now, and no writer has acquired or released it since the
// stamp was issued.
func (l *Lock) ValidateStamp(stamp uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.writer && l.stampCounter == stamp
}

// IsFree reports whether the lock is wholly idle: no readers, no writer,
// nobody queued. The Pool only accepts free locks back.
func (l *Lock) IsFree() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers == 0 && !l.writer && l.waitingWriters == 0
}
