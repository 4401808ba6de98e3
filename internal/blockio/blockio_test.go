package blockio_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/oncefs/oncefs/internal/blockio"
)

func TestMemoryWriteRead(t *testing.T) {
	d, err := blockio.Open(blockio.Config{Path: blockio.MemoryPath, BlockSize: 16, MaxBlocks: 4})
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer d.Close()

	if d.FirstValidBlock() != 1 || d.LastValidBlock() != 3 {
		t.Fatalf("unexpected block range %d..%d", d.FirstValidBlock(), d.LastValidBlock())
	}

	if err := d.Write(2, []byte("hello "), []byte("world"), nil); err != nil {
		t.Fatalf("Write: %s", err)
	}

	dst1 := make([]byte, 6)
	dst2 := make([]byte, 5)
	if err := d.Read(2, dst1, dst2, nil); err != nil {
		t.Fatalf("Read: %s", err)
	}
	if string(dst1) != "hello " || string(dst2) != "world" {
		t.Fatalf("got %q %q", dst1, dst2)
	}
}

func TestMemoryOverflow(t *testing.T) {
	d, err := blockio.Open(blockio.Config{Path: blockio.MemoryPath, BlockSize: 8, MaxBlocks: 2})
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer d.Close()

	if err := d.Write(2, []byte("x"), nil, nil); err != blockio.ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if err := d.Write(1, bytes.Repeat([]byte("x"), 9), nil, nil); err != blockio.ErrInvalid {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestMemoryZeroMaxBlocksIsInvalid(t *testing.T) {
	_, err := blockio.Open(blockio.Config{Path: blockio.MemoryPath, BlockSize: 8, MaxBlocks: 0})
	if err != blockio.ErrInvalid {
		t.Fatalf("expected ErrInvalid for zero max blocks, got %v", err)
	}
}

func TestFileBacked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "container.bin")
	if err := os.WriteFile(path, make([]byte, 64), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	d, err := blockio.Open(blockio.Config{Path: path, BlockSize: 16})
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer d.Close()

	if d.LastValidBlock() != 3 {
		t.Fatalf("expected last valid block 3, got %d", d.LastValidBlock())
	}

	if err := d.Write(1, []byte("abcd"), nil, nil); err != nil {
		t.Fatalf("Write: %s", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync: %s", err)
	}

	dst := make([]byte, 4)
	if err := d.Read(1, dst, nil, nil); err != nil {
		t.Fatalf("Read: %s", err)
	}
	if string(dst) != "abcd" {
		t.Fatalf("got %q", dst)
	}
}

func TestFileBackedEmptyIsNoSpace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "container.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	_, err := blockio.Open(blockio.Config{Path: path, BlockSize: 16})
	if err != blockio.ErrNoSpace {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
}
