package oncefs

import (
	"math/rand"
	"sort"
	"time"
)

type taggedBlock struct {
	Block uint32
	Tag   tagRaw
}

// load replays the container: it scans tags in block order until the
// first invalid/uninitialized one, sorts the valid prefix by seq, and
// applies each operation against the tables. next_seq_id and
// next_block_id resume one past the highest observed value.
func (e *Engine) load() error {
	var tagged []taggedBlock
	buf := make([]byte, tagSize)

	for i := e.firstBlockID; i <= e.lastBlockID; i++ {
		if err := e.io.Read(int(i), buf, nil, nil); err != nil {
			return err
		}
		tag := decodeTag(buf)
		if tag.Operation >= opLast {
			break
		}
		tagged = append(tagged, taggedBlock{Block: i, Tag: tag})
	}

	sort.SliceStable(tagged, func(i, j int) bool { return tagged[i].Tag.Seq < tagged[j].Tag.Seq })

	for _, tb := range tagged {
		if err := e.loadOne(tb); err != nil {
			return err
		}
		if tb.Block >= e.nextBlockID {
			e.nextBlockID = tb.Block + 1
		}
	}

	if len(tagged) > 0 {
		e.nextSeqID = tagged[len(tagged)-1].Tag.Seq + 1
	}

	return nil
}

func (e *Engine) loadOne(tb taggedBlock) error {
	switch tb.Tag.Operation {
	case opData:
		buf := make([]byte, dataSize)
		if err := e.io.ReadAt(int(tb.Block), tagSize, buf); err != nil {
			return err
		}
		d := decodeData(buf)
		return e.loadBlockRow(blockRow{Block: tb.Block, Seq: tb.Tag.Seq, Operation: opData, Node: d.Node, Fill: d.Fill, Offset: d.Offset})

	case opNode:
		n, err := e.readNodeAt(tb.Block)
		if err != nil {
			return err
		}
		if err := e.nodes.InsertOrReplace(n); err != nil {
			return err
		}
		return e.loadBlockRow(blockRow{Block: tb.Block, Seq: tb.Tag.Seq, Operation: opNode, Node: n.Node})

	case opMove:
		n, err := e.readNodeAt(tb.Block)
		if err != nil {
			return err
		}
		if err := e.moveNodeInsert(n); err != nil {
			return err
		}
		return e.loadBlockRow(blockRow{Block: tb.Block, Seq: tb.Tag.Seq, Operation: opMove, Node: n.Node})

	case opDelete:
		n, err := e.readNodeAt(tb.Block)
		if err != nil {
			return err
		}
		if err := e.delNodeInternal(n, false); err != nil && err != ErrNotFound {
			return err
		}
		return e.loadBlockRow(blockRow{Block: tb.Block, Seq: tb.Tag.Seq, Operation: opDelete, Node: n.Node})

	case opTruncate:
		buf := make([]byte, dataSize)
		if err := e.io.ReadAt(int(tb.Block), tagSize, buf); err != nil {
			return err
		}
		d := decodeData(buf)
		e.delDataInternal(d.Node, d.Offset)
		return e.loadBlockRow(blockRow{Block: tb.Block, Seq: tb.Tag.Seq, Operation: opTruncate, Node: d.Node, Offset: d.Offset})

	default:
		return ErrNotSupported
	}
}

func (e *Engine) readNodeAt(block uint32) (Node, error) {
	buf := make([]byte, nodeRecordSize)
	if err := e.io.ReadAt(int(block), tagSize, buf); err != nil {
		return Node{}, err
	}
	return decodeNode(buf), nil
}

func (e *Engine) loadBlockRow(row blockRow) error {
	e.initBlockRow(row.Node)
	return e.blocks.InsertOrReplace(row)
}

// Format overwrites every block's tag with a random seq and an operation
// code outside the valid range, reliably signalling "empty" to a later
// load without touching payload bytes.
func (e *Engine) Format() error {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := e.firstBlockID; i <= e.lastBlockID; i++ {
		tag := tagRaw{Seq: src.Uint64(), Operation: invalidOperation(src)}
		if err := e.io.Write(int(i), encodeTag(tag), nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func invalidOperation(src *rand.Rand) uint8 {
	return opLast + 1 + uint8(src.Intn(256-int(opLast)-1))
}

// Sync flushes the backing container to durable storage.
func (e *Engine) Sync() error {
	return e.io.Sync()
}
