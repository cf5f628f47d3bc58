package schemafile

import (
	"github.com/iamNilotpal/pmt/internal/node"
	"github.com/iamNilotpal/pmt/internal/page"
	"github.com/iamNilotpal/pmt/internal/record"
	"github.com/iamNilotpal/pmt/internal/segment"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
)

// WriteNode persists n's resolved children into n's subtree segment chain
// (§4.D "write_node"), satisfying internal/cache's Writer interface.
// The subtree is pre-allocated, sized via EstimateSegmentSize, on a node's
// first flush; afterward each child is written with an insert-first,
// update-on-duplicate retry, growing the chain on overflow. A child that
// owns a subtree but has none yet gets its own subtree segment allocated
// before its record is written, so the record already carries the real
// address.
func (sf *SchemaFile) WriteNode(n *node.Node, children []*node.Node) error {
	if sf.closed.Load() {
		return ErrSchemaFileClosed
	}
	if len(children) == 0 {
		return nil
	}

	headAddr, hasSubtree := record.SubtreeAddr(n.Payload)
	if !hasSubtree {
		return pmterrors.NewSchemaError(nil, pmterrors.ErrorCodeInvalidInput, "node kind owns no subtree to write children into").
			WithOperation("WriteNode").WithKey(n.Name)
	}

	if headAddr == record.UnallocatedAddr {
		sizeClass := EstimateSegmentSize(len(children), avgNameLen(children), avgAliasLen(children))
		pageIndex, pg, err := sf.allocateFreshPage()
		if err != nil {
			return err
		}
		segIndex, _, err := pg.AllocSegment(sizeClass)
		if err != nil {
			return err
		}
		headAddr = packAddress(pageIndex, segIndex)
		sf.cache.markDirty(pageIndex)
		n.Payload = record.WithSubtreeAddr(n.Payload, headAddr)
	}

	for _, child := range children {
		if childAddr, ok := record.SubtreeAddr(child.Payload); ok && childAddr == record.UnallocatedAddr {
			pageIndex, pg, err := sf.allocateFreshPage()
			if err != nil {
				return err
			}
			segIndex, _, err := pg.AllocSegment(EstimateSegmentSize(len(child.Children()), 0, 0))
			if err != nil {
				return err
			}
			sf.cache.markDirty(pageIndex)
			child.Payload = record.WithSubtreeAddr(child.Payload, packAddress(pageIndex, segIndex))
		}

		payload, err := record.Encode(child.Payload)
		if err != nil {
			return err
		}

		if size, max := segment.RecordSize(child.Name, payload), segment.MaxRecordSize(); size > max {
			return pmterrors.NewColossalError(child.Name, size, max).WithOperation("WriteNode")
		}

		newHead, err := sf.writeRecordToChain(headAddr, child.Name, payload)
		if err != nil {
			return pmterrors.NewSchemaError(err, pmterrors.GetErrorCode(err), "failed to write child record").
				WithOperation("WriteNode").WithKey(child.Name)
		}
		if newHead != headAddr {
			headAddr = newHead
			n.Payload = record.WithSubtreeAddr(n.Payload, headAddr)
		}
	}

	return nil
}

// avgNameLen and avgAliasLen feed EstimateSegmentSize's formula branch —
// the average child name length, and (for measurement children) the
// average alias length among children that carry one.
func avgNameLen(children []*node.Node) int {
	if len(children) == 0 {
		return 0
	}
	total := 0
	for _, c := range children {
		total += len(c.Name)
	}
	return total / len(children)
}

func avgAliasLen(children []*node.Node) int {
	total, count := 0, 0
	for _, c := range children {
		if m, ok := c.Payload.(record.MeasurementPayload); ok && m.HasAlias {
			total += len(m.Alias)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / count
}

// tryInsertOrUpdate attempts Insert first; a Duplicate answer (the key
// already has a record in this segment) falls back to Update instead of
// the caller having to track which children are new versus already
// written — see DESIGN.md for why this replaces tracking separate
// new/updated child lists.
func (sf *SchemaFile) tryInsertOrUpdate(seg *segment.Segment, key string, payload []byte) error {
	if _, err := seg.Insert(key, payload); err == nil {
		return nil
	} else if se, ok := pmterrors.AsSchemaError(err); !ok || se.Code() != pmterrors.ErrorCodeDuplicate {
		return err
	}
	_, err := seg.Update(key, payload)
	return err
}

func isOverflow(err error) bool {
	se, ok := pmterrors.AsSchemaError(err)
	return ok && se.Code() == pmterrors.ErrorCodeOverflow
}

// writeRecordToChain walks headAddr's segment chain, writing (key,
// payload) into the first segment with room, growing the chain on
// overflow (§4.D "insert-with-overflow-retry... transplant or
// chain"). It returns the chain's head address, which only changes when
// growth transplants the head segment itself to a new location.
func (sf *SchemaFile) writeRecordToChain(headAddr int64, key string, payload []byte) (int64, error) {
	addr := headAddr
	prevAddr := int64(segment.UnallocatedAddr)
	newHead := headAddr

	for {
		pageIndex, segIndex := unpackAddress(addr)
		pg, err := sf.cache.acquire(pageIndex)
		if err != nil {
			return newHead, err
		}
		seg, err := pg.GetSegment(segIndex)
		if err != nil {
			sf.cache.release(pageIndex)
			return newHead, err
		}

		writeErr := sf.tryInsertOrUpdate(seg, key, payload)
		if writeErr == nil {
			sf.cache.markDirty(pageIndex)
			sf.cache.release(pageIndex)
			return newHead, nil
		}
		if !isOverflow(writeErr) {
			sf.cache.release(pageIndex)
			return newHead, writeErr
		}

		if next := seg.NextAddr(); next != segment.UnallocatedAddr {
			sf.cache.release(pageIndex)
			prevAddr = addr
			addr = next
			continue
		}

		sf.cache.release(pageIndex)
		newAddr, addressChanged, err := sf.growSegment(pageIndex, segIndex, addr)
		if err != nil {
			return newHead, err
		}
		if addressChanged {
			if prevAddr == int64(segment.UnallocatedAddr) {
				newHead = newAddr
			} else if err := sf.relink(prevAddr, newAddr); err != nil {
				return newHead, err
			}
		}
		addr = newAddr
	}
}

// growSegment grows the full segment at (pageIndex, segIndex): transplant
// to the next size class if one remains (same page first, else a fresh
// page), or — already at MaxSegmentSize — chain a new empty max-size
// segment after it. addressChanged reports whether the segment's own
// address moved (transplant) as opposed to merely gaining a next link
// (chain), since only the former requires the caller to fix up whatever
// pointed at the old address.
func (sf *SchemaFile) growSegment(pageIndex uint64, segIndex int, addr int64) (newAddr int64, addressChanged bool, err error) {
	pg, err := sf.cache.acquire(pageIndex)
	if err != nil {
		return 0, false, err
	}
	defer sf.cache.release(pageIndex)

	seg, err := pg.GetSegment(segIndex)
	if err != nil {
		return 0, false, err
	}

	if nextClass, ok := segment.NextSizeClass(int(seg.Length())); ok {
		if newIndex, terr := pg.TransplantSegment(pg, segIndex, nextClass); terr == nil {
			sf.cache.markDirty(pageIndex)
			return packAddress(pageIndex, newIndex), true, nil
		} else if !isOverflow(terr) {
			return 0, false, terr
		}

		dstIndex, dstPage, ferr := sf.allocateFreshPage()
		if ferr != nil {
			return 0, false, ferr
		}
		newIndex, terr := dstPage.TransplantSegment(pg, segIndex, nextClass)
		if terr != nil {
			return 0, false, terr
		}
		sf.cache.markDirty(pageIndex)
		sf.cache.markDirty(dstIndex)
		return packAddress(dstIndex, newIndex), true, nil
	}

	dstIndex, dstPage, ferr := sf.allocateFreshPage()
	if ferr != nil {
		return 0, false, ferr
	}
	newIndex, newSeg, aerr := dstPage.AllocSegment(segment.MaxSegmentSize)
	if aerr != nil {
		return 0, false, aerr
	}
	chained := packAddress(dstIndex, newIndex)
	seg.SetNextAddr(chained)
	newSeg.SetPrevAddr(addr)
	sf.cache.markDirty(pageIndex)
	sf.cache.markDirty(dstIndex)
	return chained, false, nil
}

// relink rewrites prevAddr's segment's next-link to point at newAddr —
// used after a transplant moves a non-head segment to a new address.
func (sf *SchemaFile) relink(prevAddr, newAddr int64) error {
	pageIndex, segIndex := unpackAddress(prevAddr)
	pg, err := sf.cache.acquire(pageIndex)
	if err != nil {
		return err
	}
	defer sf.cache.release(pageIndex)

	seg, err := pg.GetSegment(segIndex)
	if err != nil {
		return err
	}
	seg.SetNextAddr(newAddr)
	sf.cache.markDirty(pageIndex)
	return nil
}

// allocateFreshPage grows the file by one page and brings it into cache,
// zero-initialized and ready for AllocSegment.
func (sf *SchemaFile) allocateFreshPage() (uint64, *page.Page, error) {
	sf.mu.Lock()
	sf.lastPageIndex++
	idx := sf.lastPageIndex
	sf.headerDirty = true
	sf.mu.Unlock()

	pg, err := sf.cache.allocatePage(idx)
	if err != nil {
		return 0, nil, err
	}
	return idx, pg, nil
}

// DeleteChild removes name from parentAddr's segment chain (§4.D
// "delete"). Returns pmterrors.ErrorCodeNotFound if name is absent from
// every segment in the chain.
func (sf *SchemaFile) DeleteChild(parentAddr int64, name string) error {
	if sf.closed.Load() {
		return ErrSchemaFileClosed
	}

	addr := parentAddr
	for addr != segment.UnallocatedAddr {
		pageIndex, segIndex := unpackAddress(addr)
		pg, err := sf.cache.acquire(pageIndex)
		if err != nil {
			return err
		}
		seg, err := pg.GetSegment(segIndex)
		if err != nil {
			sf.cache.release(pageIndex)
			return err
		}

		delErr := seg.Delete(name)
		if delErr == nil {
			sf.cache.markDirty(pageIndex)
			sf.cache.release(pageIndex)
			return nil
		}
		next := seg.NextAddr()
		sf.cache.release(pageIndex)
		if se, ok := pmterrors.AsSchemaError(delErr); !ok || se.Code() != pmterrors.ErrorCodeNotFound {
			return delErr
		}
		addr = next
	}

	return pmterrors.NewNotFoundError(name, "Delete")
}
