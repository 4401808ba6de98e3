package oncefs

const blockHeaderSize = tagSize + dataSize

// SetData writes buf at offset within node's data, splitting it into
// payloadSize-sized DATA blocks. Each block may trigger the block-reuse
// policy independently.
func (e *Engine) SetData(node uint32, buf []byte, offset uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	written := 0
	for written < len(buf) {
		amount := len(buf) - written
		if amount > e.payloadSize {
			amount = e.payloadSize
		}

		row, err := e.createBlock(opData, node, uint16(amount), offset+uint64(written))
		if err != nil {
			return err
		}
		if err := e.writeDataBlock(row, buf[written:written+amount]); err != nil {
			return err
		}
		written += amount
	}
	return nil
}

// GetData reads up to len(dst) bytes of node's data starting at offset,
// returning the number of bytes actually read. It issues reads in
// payloadSize chunks, stopping early if a chunk comes back empty (EOF).
func (e *Engine) GetData(node uint32, dst []byte, offset uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0
	for total < len(dst) {
		limit := len(dst) - total
		if limit > e.payloadSize {
			limit = e.payloadSize
		}

		n, err := e.getDataChunk(node, dst[total:total+limit], offset+uint64(total))
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// getDataChunk implements the layered read for a single window: it finds
// every DATA block whose byte range could intersect [offset, offset+len),
// applies them to dst in ascending seq order (later writes shadow earlier
// ones over overlapping ranges), and returns the highest (seek+amount)
// written, measured from the window start.
func (e *Engine) getDataChunk(node uint32, dst []byte, offset uint64) (int, error) {
	key := blockRow{Operation: opData, Node: node, Fill: uint16(len(dst)), Offset: offset}
	window := uint64(len(dst)) + uint64(e.payloadSize)

	filter := func(o blockRow) int {
		if r := blockCmpLookupFuzzy(key, o); r != 0 {
			return r
		}
		if key.Offset+window < o.Offset {
			return -1
		}
		if key.Offset > o.Offset+window {
			return 1
		}
		return 0
	}
	orderBySeq := func(a, b blockRow) int {
		if a.Seq != b.Seq {
			if a.Seq < b.Seq {
				return -1
			}
			return 1
		}
		return 0
	}

	tgtStart := int64(offset)
	tgtEnd := tgtStart + int64(len(dst))

	fill := 0
	var rerr error

	e.blocks.QueryOrderBy(blocksIndexLookup, filter, orderBySeq, func(b blockRow) {
		if rerr != nil {
			return
		}

		srcStart := int64(b.Offset)
		srcEnd := srcStart + int64(b.Fill)
		if srcStart > tgtEnd || srcEnd < tgtStart {
			return
		}

		var skip, seek int64
		if srcStart < tgtStart {
			skip = tgtStart - srcStart
			srcStart = tgtStart
		} else if srcStart > tgtStart {
			seek = srcStart - tgtStart
		}
		if srcEnd > tgtEnd {
			srcEnd = tgtEnd
		}

		amount := srcEnd - srcStart
		if amount <= 0 {
			return
		}

		if err := e.io.ReadAt(int(b.Block), blockHeaderSize+int(skip), dst[seek:seek+amount]); err != nil {
			rerr = err
			return
		}
		if int(seek+amount) > fill {
			fill = int(seek + amount)
		}
	})

	return fill, rerr
}

// DelData truncates node's data to newSize: DATA blocks entirely beyond
// newSize are freed, a block straddling the cutoff has its Fill shrunk,
// and a TRUNCATE block records the new size.
func (e *Engine) DelData(node uint32, newSize uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := Node{Node: node, Type: TypeFile}
	cmp := e.nodes.IndexComparator(nodesIndexPrimary)
	filter := func(o Node) int { return cmp(key, o) }
	result, err := e.nodes.QueryFirst(nodesIndexPrimary, filter)
	if err != nil {
		return err
	}

	e.delDataInternal(result.Node, newSize)

	row, err := e.createBlock(opTruncate, result.Node, 0, newSize)
	if err != nil {
		return err
	}
	return e.writeTruncateBlock(row)
}

func (e *Engine) delDataInternal(node uint32, newSize uint64) {
	key := blockRow{Operation: opData, Node: node, Offset: newSize}
	filter := func(o blockRow) int {
		if r := blockCmpLookupFuzzy(key, o); r != 0 {
			return r
		}
		if key.Offset > o.Offset+uint64(e.payloadSize) {
			return 1
		}
		return 0
	}
	e.blocks.QueryUpdate(blocksIndexLookup, filter, func(b *blockRow) {
		start := b.Offset
		if start >= newSize {
			b.Operation = opFree
			return
		}
		end := start + uint64(b.Fill)
		if end > newSize {
			end = newSize
		}
		b.Fill = uint16(end - start)
	})

	truncKey := blockRow{Operation: opTruncate, Node: node}
	truncFilter := func(o blockRow) int { return blockCmpLookupFuzzy(truncKey, o) }
	e.blocks.QueryUpdate(blocksIndexLookup, truncFilter, func(b *blockRow) { b.Operation = opFree })
}
