// Package oncefs implements an append-only block filesystem: every
// mutation appends one or more fixed-size tagged blocks to a backing
// container (a file or an in-memory buffer, via internal/blockio); no
// logical state is ever edited in place. At mount the container is
// replayed in sequence-number order to reconstruct live state.
package oncefs

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oncefs/oncefs/internal/blockio"
	"github.com/oncefs/oncefs/internal/table"
)

const (
	nodesIndexPrimary = 0
	nodesIndexLookup  = 1

	blocksIndexPrimary = 0
	blocksIndexLookup  = 1
)

// Status reports allocator-level information about an Engine's container.
type Status struct {
	BlockSize   int
	TotalBlocks uint32
	FreeBlocks  uint32
	NameMaxSize int
}

// Stat describes a resolved path.
type Stat struct {
	Node             uint32
	IsDir            bool
	IsFile           bool
	IsLink           bool
	Size             uint64
	Mode             uint16
	LastAccess       uint64
	LastModification uint64
}

// Engine owns the node and block tables and the attached block device. A
// single Engine assumes a single caller at a time; the mutex here guards against go-fuse's own
// administrative goroutines (e.g. FORGET handling) racing the request
// loop, not against genuine concurrent filesystem callers.
type Engine struct {
	mu sync.Mutex

	io *blockio.Device

	nextNodeID   uint32
	nextSeqID    uint64
	nextBlockID  uint32
	firstBlockID uint32
	lastBlockID  uint32
	blockSize    int
	payloadSize  int

	nodes  *table.Table[Node]
	blocks *table.Table[blockRow]

	clock func() time.Time
}

// New creates an Engine over dev. If format is true the container is
// wiped before mount; otherwise it is replayed.
func New(dev *blockio.Device, format bool, opts ...Option) (*Engine, error) {
	e := &Engine{
		io:           dev,
		nextNodeID:   1,
		nextSeqID:    1,
		firstBlockID: uint32(dev.FirstValidBlock()),
		lastBlockID:  uint32(dev.LastValidBlock()),
		blockSize:    dev.BlockSize(),
		payloadSize:  dev.BlockSize() - tagSize - dataSize,
		clock:        time.Now,
	}
	e.nextBlockID = e.firstBlockID

	if e.payloadSize < nodeRecordSize {
		return nil, fmt.Errorf("block size too small for a node record: %w", ErrInvalid)
	}

	e.nodes = table.New[Node](nodeCmpPrimary)
	e.nodes.AddIndex(nodeCmpLookup)

	e.blocks = table.New[blockRow](blockCmpPrimary)
	e.blocks.AddIndex(blockCmpLookup)

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if format {
		if err := e.Format(); err != nil {
			return nil, err
		}
	} else {
		if err := e.load(); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// initBlockRow bumps nextNodeID past any node id observed in a block,
// whether freshly created or replayed. Mirrors the original allocator's
// habit of discovering node ids incidentally from block traffic rather
// than only from node creation.
func (e *Engine) initBlockRow(node uint32) {
	if node >= e.nextNodeID {
		e.nextNodeID = node + 1
	}
}

// reuseBlock implements the block-reuse policy: FREE blocks first, then
// DELETE blocks (only once FREE is exhausted), then a same-node takeover
// restricted to the node's own stale NODE block, then NO_SPACE.
func (e *Engine) reuseBlock(node uint32) (uint32, error) {
	if row, ok := e.firstBlockByOperation(opFree); ok {
		return row.Block, nil
	}
	if row, ok := e.firstBlockByOperation(opDelete); ok {
		return row.Block, nil
	}
	if node < 1 {
		return 0, ErrNoSpace
	}

	key := blockRow{Operation: opNode, Node: node}
	filter := func(o blockRow) int { return blockCmpLookupFuzzy(key, o) }
	if row, err := e.blocks.QueryFirst(blocksIndexLookup, filter); err == nil {
		return row.Block, nil
	}

	return 0, ErrNoSpace
}

func (e *Engine) firstBlockByOperation(op uint8) (blockRow, bool) {
	filter := func(o blockRow) int {
		if op != o.Operation {
			if op < o.Operation {
				return -1
			}
			return 1
		}
		return 0
	}
	row, err := e.blocks.QueryFirst(blocksIndexLookup, filter)
	return row, err == nil
}

// createBlock allocates a block id (fresh or reused), stamps it with the
// next sequence number, and records it in the blocks table. It does not
// write anything to the device; callers write the tag/data/payload
// themselves afterwards.
func (e *Engine) createBlock(operation uint8, node uint32, fill uint16, offset uint64) (blockRow, error) {
	var id uint32
	if e.nextBlockID <= e.lastBlockID {
		id = e.nextBlockID
		e.nextBlockID++
	} else {
		reused, err := e.reuseBlock(node)
		if err != nil {
			return blockRow{}, err
		}
		id = reused
	}

	row := blockRow{
		Block:     id,
		Seq:       e.nextSeqID,
		Operation: operation,
		Node:      node,
		Fill:      fill,
		Offset:    offset,
	}
	e.nextSeqID++

	e.initBlockRow(node)

	if err := e.blocks.InsertOrReplace(row); err != nil {
		return blockRow{}, err
	}
	return row, nil
}

func (e *Engine) writeNodeBlock(row blockRow, n Node) error {
	return e.io.Write(int(row.Block), encodeTag(tagRaw{Seq: row.Seq, Operation: row.Operation}), encodeNode(n), nil)
}

func (e *Engine) writeDataBlock(row blockRow, payload []byte) error {
	tag := encodeTag(tagRaw{Seq: row.Seq, Operation: row.Operation})
	data := encodeData(dataRaw{Node: row.Node, Fill: row.Fill, Offset: row.Offset})
	return e.io.Write(int(row.Block), tag, data, payload)
}

func (e *Engine) writeTruncateBlock(row blockRow) error {
	tag := encodeTag(tagRaw{Seq: row.Seq, Operation: row.Operation})
	data := encodeData(dataRaw{Node: row.Node, Fill: row.Fill, Offset: row.Offset})
	return e.io.Write(int(row.Block), tag, data, nil)
}

// resolveNode walks path, segment by segment, through the nodes lookup
// index ((Parent, Name) pairs). "/" resolves to a synthetic root node
// with id 0.
func (e *Engine) resolveNode(p string) (Node, error) {
	if p == "/" || p == "" {
		return Node{Node: 0, Type: TypeDir, LastAccess: uint64(e.clock().Unix()), LastModification: uint64(e.clock().Unix())}, nil
	}

	cmp := e.nodes.IndexComparator(nodesIndexLookup)
	cur := Node{Type: TypeDir, Parent: 0}

	var found Node
	for _, name := range strings.Split(strings.Trim(p, "/"), "/") {
		if cur.Type != TypeDir {
			return Node{}, ErrInvalid
		}
		if len(name) > NameMaxSize {
			return Node{}, ErrInvalid
		}

		key := Node{Parent: cur.Parent, Name: name}
		filter := func(o Node) int { return cmp(key, o) }
		row, err := e.nodes.QueryFirst(nodesIndexLookup, filter)
		if err != nil {
			return Node{}, ErrNotFound
		}
		found = row
		cur.Parent = row.Node
		cur.Type = row.Type
	}

	return found, nil
}

// initNode validates that p doesn't already exist and that its parent is
// a directory, then reserves a node id for a new row of the given type.
func (e *Engine) initNode(p string, typ uint8) (Node, error) {
	if _, err := e.resolveNode(p); err == nil {
		return Node{}, ErrExists
	} else if err != ErrNotFound {
		return Node{}, err
	}

	parent, err := e.resolveNode(path.Dir(p))
	if err != nil {
		return Node{}, err
	}
	if parent.Type != TypeDir {
		return Node{}, ErrInvalid
	}

	name := path.Base(p)
	if len(name) > NameMaxSize {
		return Node{}, ErrInvalid
	}

	now := uint64(e.clock().Unix())
	n := Node{
		Parent:           parent.Node,
		Type:             typ,
		LastAccess:       now,
		LastModification: now,
		Name:             name,
		Node:             e.nextNodeID,
	}
	e.nextNodeID++

	return n, nil
}

// SetFile creates a new regular file at path.
func (e *Engine) SetFile(p string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setNode(p, TypeFile)
}

// SetDir creates a new directory at path.
func (e *Engine) SetDir(p string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setNode(p, TypeDir)
}

func (e *Engine) setNode(p string, typ uint8) error {
	n, err := e.initNode(p, typ)
	if err != nil {
		return err
	}
	row, err := e.createBlock(opNode, n.Node, 0, 0)
	if err != nil {
		return err
	}
	if err := e.nodes.InsertOrReplace(n); err != nil {
		return err
	}
	return e.writeNodeBlock(row, n)
}

// SetLink creates a symbolic link at from, pointing at the literal string
// to (never resolved or validated as a path by the engine itself).
func (e *Engine) SetLink(from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(to) > NameMaxSize {
		return ErrInvalid
	}

	entry, err := e.initNode(from, TypeLink)
	if err != nil {
		return err
	}
	if err := e.nodes.InsertOrReplace(entry); err != nil {
		return err
	}

	payload := Node{
		Node:   entry.Node,
		Parent: entry.Node,
		Type:   TypeLinkPayload,
		Name:   to,
	}
	if err := e.nodes.InsertOrReplace(payload); err != nil {
		return err
	}

	row, err := e.createBlock(opNode, entry.Node, 0, 0)
	if err != nil {
		return err
	}
	if err := e.writeNodeBlock(row, entry); err != nil {
		return err
	}

	row, err = e.createBlock(opNode, payload.Node, 0, 0)
	if err != nil {
		return err
	}
	return e.writeNodeBlock(row, payload)
}

// SetTime updates a node's access and modification times. A no-op write
// (unchanged modification time) is skipped entirely, matching the
// original's "updating access alone is expensive" shortcut.
func (e *Engine) SetTime(p string, atime, mtime int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.resolveNode(p)
	if err != nil {
		return err
	}

	if uint64(mtime) == n.LastModification {
		return nil
	}

	n.LastAccess = uint64(atime)
	n.LastModification = uint64(mtime)

	if err := e.nodes.InsertOrReplace(n); err != nil {
		return err
	}
	row, err := e.createBlock(opNode, n.Node, 0, 0)
	if err != nil {
		return err
	}
	return e.writeNodeBlock(row, n)
}

// GetStatus reports block-allocator level statistics.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := e.lastBlockID - e.firstBlockID + 1
	unused := e.lastBlockID - e.nextBlockID + 1

	free := uint32(e.blocks.QueryCount(blocksIndexLookup, operationOnlyFilter(opFree)))
	del := uint32(e.blocks.QueryCount(blocksIndexLookup, operationOnlyFilter(opDelete)))

	return Status{
		BlockSize:   e.blockSize,
		TotalBlocks: total,
		FreeBlocks:  unused + free + del,
		NameMaxSize: NameMaxSize,
	}
}

func operationOnlyFilter(op uint8) func(blockRow) int {
	return func(o blockRow) int {
		if op != o.Operation {
			if op < o.Operation {
				return -1
			}
			return 1
		}
		return 0
	}
}

// GetNode resolves path and reports its attributes.
func (e *Engine) GetNode(p string) (Stat, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.resolveNode(p)
	if err != nil {
		return Stat{}, err
	}

	stat := Stat{
		Node:             n.Node,
		IsDir:            n.Type == TypeDir,
		IsFile:           n.Type == TypeFile,
		IsLink:           n.Type == TypeLink,
		Mode:             n.Mode,
		LastAccess:       n.LastAccess,
		LastModification: n.LastModification,
	}

	if stat.IsFile {
		key := blockRow{Operation: opData, Node: n.Node}
		filter := func(o blockRow) int { return blockCmpLookupFuzzy(key, o) }
		if last, err := e.blocks.QueryLast(blocksIndexLookup, filter); err == nil {
			stat.Size = last.Offset + uint64(last.Fill)
		}
	}

	return stat, nil
}

// GetDir resolves path (which must be a directory) and invokes cb once
// per direct child.
func (e *Engine) GetDir(p string, cb func(Node)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.resolveNode(p)
	if err != nil {
		return err
	}
	if n.Type != TypeDir {
		return ErrInvalid
	}

	filter := func(o Node) int {
		if n.Node != o.Parent {
			if n.Node < o.Parent {
				return -1
			}
			return 1
		}
		return 0
	}
	e.nodes.QueryAll(nodesIndexLookup, filter, cb)
	return nil
}

// GetLink resolves path (which must be a symlink) and returns its target.
func (e *Engine) GetLink(p string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.resolveNode(p)
	if err != nil {
		return "", err
	}
	if n.Type != TypeLink {
		return "", ErrInvalid
	}

	key := Node{Node: n.Node, Parent: n.Node, Type: TypeLinkPayload}
	cmp := e.nodes.IndexComparator(nodesIndexPrimary)
	filter := func(o Node) int { return cmp(key, o) }

	payload, err := e.nodes.QueryFirst(nodesIndexPrimary, filter)
	if err != nil {
		return "", ErrNotFound
	}
	return payload.Name, nil
}

// MoveNode renames/moves the node at from to to. If to already names a
// FILE, that file is deleted first and the move retried; if to names a
// DIR or LINK, the move fails with ErrInvalid.
func (e *Engine) MoveNode(from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.resolveNode(from)
	if err != nil {
		return err
	}

	parent, err := e.resolveNode(path.Dir(to))
	if err != nil {
		return err
	}
	if parent.Type != TypeDir {
		return ErrInvalid
	}

	result.Parent = parent.Node
	name := path.Base(to)
	if len(name) > NameMaxSize {
		return ErrInvalid
	}
	result.Name = name

	err = e.moveNodeInsert(result)
	if err == ErrExists {
		if err := e.delNode(to); err != nil {
			return err
		}
		err = e.moveNodeInsert(result)
	}
	if err != nil {
		return err
	}

	row, err := e.createBlock(opMove, result.Node, 0, 0)
	if err != nil {
		return err
	}
	return e.writeNodeBlock(row, result)
}

// moveNodeInsert checks for a name collision at node's (Parent, Name) and,
// absent one, writes node over its own primary-key slot.
func (e *Engine) moveNodeInsert(n Node) error {
	cmp := e.nodes.IndexComparator(nodesIndexLookup)
	filter := func(o Node) int { return cmp(n, o) }

	if existing, err := e.nodes.QueryFirst(nodesIndexLookup, filter); err == nil {
		if existing.Type == TypeFile {
			return ErrExists
		}
		return ErrInvalid
	}

	return e.nodes.InsertOrReplace(n)
}

// DelNode removes the node at path (and, for a DIR, requires it have no
// live children) and frees all of its blocks.
func (e *Engine) DelNode(p string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delNode(p)
}

func (e *Engine) delNode(p string) error {
	result, err := e.resolveNode(p)
	if err != nil {
		return err
	}

	if err := e.delNodeInternal(result, true); err != nil {
		return err
	}

	row, err := e.createBlock(opDelete, result.Node, 0, 0)
	if err != nil {
		return err
	}
	return e.writeNodeBlock(row, result)
}

// delNodeInternal frees n's row(s) and every block it owns. The primary
// filter compares only the Node field (a valid prefix of the (Node, Type)
// ordering), so a LINK delete also removes its LINK_PAYLOAD sibling row,
// which shares the same Node id.
func (e *Engine) delNodeInternal(n Node, checkChildren bool) error {
	if checkChildren && n.Type == TypeDir {
		filter := func(o Node) int {
			if n.Node != o.Parent {
				if n.Node < o.Parent {
					return -1
				}
				return 1
			}
			return 0
		}
		if _, err := e.nodes.QueryFirst(nodesIndexLookup, filter); err == nil {
			return ErrInvalid
		}
	}

	primaryFilter := func(o Node) int {
		if n.Node != o.Node {
			if n.Node < o.Node {
				return -1
			}
			return 1
		}
		return 0
	}
	e.nodes.QueryDelete(nodesIndexPrimary, primaryFilter)

	for op := uint8(1); op < opLast; op++ {
		key := blockRow{Operation: op, Node: n.Node}
		filter := func(o blockRow) int { return blockCmpLookupFuzzy(key, o) }
		e.blocks.QueryUpdate(blocksIndexLookup, filter, func(b *blockRow) { b.Operation = opFree })
	}

	return nil
}
