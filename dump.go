package oncefs

import (
	"fmt"
	"io"
)

// Dump writes a human-readable snapshot of allocator state and both tables
// to w, for debugging.
func (e *Engine) Dump(w io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fmt.Fprintf(w, "\n info \n")
	fmt.Fprintf(w, "+--------------+-------+\n")
	fmt.Fprintf(w, "| name         | value |\n")
	fmt.Fprintf(w, "+--------------+-------+\n")
	fmt.Fprintf(w, "| next node    | %5d |\n", e.nextNodeID)
	fmt.Fprintf(w, "| next seq     | %5d |\n", e.nextSeqID)
	fmt.Fprintf(w, "+--------------+-------+\n")
	fmt.Fprintf(w, "| block size   | %5d |\n", e.blockSize)
	fmt.Fprintf(w, "| payload size | %5d |\n", e.payloadSize)
	fmt.Fprintf(w, "+--------------+-------+\n")
	fmt.Fprintf(w, "| first block  | %5d |\n", e.firstBlockID)
	fmt.Fprintf(w, "| next block   | %5d |\n", e.nextBlockID)
	fmt.Fprintf(w, "| last block   | %5d |\n", e.lastBlockID)
	fmt.Fprintf(w, "| total_blocks | %5d |\n", e.lastBlockID-e.firstBlockID+1)
	fmt.Fprintf(w, "+--------------+-------+\n")

	free := uint32(e.blocks.QueryCount(blocksIndexLookup, operationOnlyFilter(opFree)))
	del := uint32(e.blocks.QueryCount(blocksIndexLookup, operationOnlyFilter(opDelete)))
	unused := e.lastBlockID - e.nextBlockID + 1
	fmt.Fprintf(w, "| free blocks  | %5d |\n", unused+free+del)
	fmt.Fprintf(w, "+--------------+-------+\n")

	fmt.Fprintf(w, "\n  nodes (index %d)\n", nodesIndexLookup)
	fmt.Fprintf(w, "+------+--------+------+------+------------+------------+----------+\n")
	fmt.Fprintf(w, "| node | parent | type | mode | access     | modify     |     name |\n")
	fmt.Fprintf(w, "+------+--------+------+------+------------+------------+----------+\n")
	e.nodes.Dump(nodesIndexLookup, func(n Node) {
		fmt.Fprintf(w, "| %4d | %6d | %4d | %4d | %10d | %10d | %8s |\n",
			n.Node, n.Parent, n.Type, n.Mode, n.LastAccess, n.LastModification, n.Name)
	})
	fmt.Fprintf(w, "+------+--------+------+------+------------+------------+----------+\n")

	fmt.Fprintf(w, "\n  blocks (index %d)\n", blocksIndexLookup)
	fmt.Fprintf(w, "+-------+-----+------+------+------+--------+\n")
	fmt.Fprintf(w, "| block | seq | op   | node | fill | offset |\n")
	fmt.Fprintf(w, "+-------+-----+------+------+------+--------+\n")
	e.blocks.Dump(blocksIndexLookup, func(b blockRow) {
		fmt.Fprintf(w, "| %5d | %3d | %4d | %4d | %4d | %6d |\n",
			b.Block, b.Seq, b.Operation, b.Node, b.Fill, b.Offset)
	})
	fmt.Fprintf(w, "+-------+-----+------+------+------+--------+\n")

	return nil
}
