package schemafile

import (
	"sort"

	"github.com/iamNilotpal/pmt/internal/record"
	"github.com/iamNilotpal/pmt/internal/segment"
)

// ReadChild looks up name among parentAddr's children (§4.D
// "read_child"): walks the segment chain from its head, binary-searching
// each segment in turn. A miss in every segment in the chain is an
// ordinary not-found answer, not an error (§9 "a missing key is an
// ordinary negative answer").
func (sf *SchemaFile) ReadChild(parentAddr int64, name string) (record.Payload, bool, error) {
	if sf.closed.Load() {
		return nil, false, ErrSchemaFileClosed
	}
	if parentAddr == record.UnallocatedAddr {
		return nil, false, nil
	}

	addr := parentAddr
	for addr != segment.UnallocatedAddr {
		pageIndex, segIndex := unpackAddress(addr)
		pg, err := sf.cache.acquire(pageIndex)
		if err != nil {
			return nil, false, err
		}
		seg, err := pg.GetSegment(segIndex)
		if err != nil {
			sf.cache.release(pageIndex)
			return nil, false, err
		}

		raw, found, err := seg.Lookup(name)
		if err != nil {
			sf.cache.release(pageIndex)
			return nil, false, err
		}
		if found {
			payload, err := record.Decode(raw)
			sf.cache.release(pageIndex)
			if err != nil {
				return nil, false, err
			}
			return payload, true, nil
		}

		next := seg.NextAddr()
		sf.cache.release(pageIndex)
		addr = next
	}

	return nil, false, nil
}

// ChildIterator is the pull-based, non-restartable iterator Children
// returns (§9 "Lazy children iterator... Restartable: no").
type ChildIterator struct {
	entries []childEntry
	pos     int
}

type childEntry struct {
	name    string
	payload record.Payload
}

// Next advances the iterator, returning false once exhausted.
func (it *ChildIterator) Next() (name string, payload record.Payload, ok bool) {
	if it.pos >= len(it.entries) {
		return "", nil, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e.name, e.payload, true
}

// Children returns an iterator over every child of parentAddr in key
// order (§4.D "children"). A segment chain's segments do not each
// own an exclusive key range — growth only ever transplants or appends,
// never repartitions existing keys — so every segment in the chain is
// read, decoded and merged by key up front; Next then steps through the
// merged entries one at a time.
func (sf *SchemaFile) Children(parentAddr int64) (*ChildIterator, error) {
	if sf.closed.Load() {
		return nil, ErrSchemaFileClosed
	}
	if parentAddr == record.UnallocatedAddr {
		return &ChildIterator{}, nil
	}

	var entries []childEntry
	addr := parentAddr
	for addr != segment.UnallocatedAddr {
		pageIndex, segIndex := unpackAddress(addr)
		pg, err := sf.cache.acquire(pageIndex)
		if err != nil {
			return nil, err
		}
		seg, err := pg.GetSegment(segIndex)
		if err != nil {
			sf.cache.release(pageIndex)
			return nil, err
		}

		kvs, err := seg.Children()
		if err != nil {
			sf.cache.release(pageIndex)
			return nil, err
		}
		for _, kv := range kvs {
			payload, err := record.Decode(kv.Payload)
			if err != nil {
				sf.cache.release(pageIndex)
				return nil, err
			}
			entries = append(entries, childEntry{name: kv.Key, payload: payload})
		}

		next := seg.NextAddr()
		sf.cache.release(pageIndex)
		addr = next
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return &ChildIterator{entries: entries}, nil
}
