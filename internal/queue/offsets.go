package queue

import "sync"

// offsetTracker decides how far a consumer may commit each partition. Kafka
// commits are positional, so an offset is only committed once every offset
// fetched before it on the same partition is finished.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[int]*partitionLog
}

type partitionLog struct {
	order     []int64        // fetched, not yet committed, in fetch order
	finished  map[int64]bool // offset -> finished
	committed int64
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[int]*partitionLog)}
}

// fetched records an offset handed to a worker. A fetch that goes backwards
// means the partition was reassigned and re-read from its committed offset;
// state from the previous assignment is dropped.
func (t *offsetTracker) fetched(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.parts[partition]
	if !ok || (len(p.order) > 0 && offset <= p.order[len(p.order)-1]) {
		p = &partitionLog{finished: make(map[int64]bool), committed: -1}
		t.parts[partition] = p
	}
	p.order = append(p.order, offset)
	p.finished[offset] = false
}

// finish marks offset done and calls commit with the highest offset whose
// predecessors are all done, when that offset advanced. commit runs under the
// tracker lock so commits of a partition never go backwards.
func (t *offsetTracker) finish(partition int, offset int64, commit func(offset int64) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.parts[partition]
	if !ok {
		return nil
	}
	if _, tracked := p.finished[offset]; !tracked {
		// belongs to an earlier assignment
		return nil
	}
	p.finished[offset] = true

	upTo := int64(-1)
	for len(p.order) > 0 && p.finished[p.order[0]] {
		upTo = p.order[0]
		delete(p.finished, upTo)
		p.order = p.order[1:]
	}
	if upTo <= p.committed {
		return nil
	}
	if err := commit(upTo); err != nil {
		return err
	}
	p.committed = upTo
	return nil
}

// pending returns the number of fetched offsets not yet committable.
func (t *offsetTracker) pending(partition int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.parts[partition]; ok {
		return len(p.order)
	}
	return 0
}
