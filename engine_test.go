package oncefs_test

import (
	"testing"

	"github.com/oncefs/oncefs"
	"github.com/oncefs/oncefs/internal/blockio"
)

const testPayloadSize = 1024

func testBlockSize() int {
	return testPayloadSize + 23
}

func newMemEngine(t *testing.T, maxBlocks int) (*oncefs.Engine, *blockio.Device) {
	t.Helper()
	dev, err := blockio.Open(blockio.Config{
		Path:      blockio.MemoryPath,
		BlockSize: testBlockSize(),
		MaxBlocks: maxBlocks,
	})
	if err != nil {
		t.Fatalf("blockio.Open: %s", err)
	}
	eng, err := oncefs.New(dev, true)
	if err != nil {
		t.Fatalf("oncefs.New: %s", err)
	}
	return eng, dev
}

func TestCreateAndList(t *testing.T) {
	eng, _ := newMemEngine(t, 16)

	if err := eng.SetFile("/foo"); err != nil {
		t.Fatalf("SetFile(/foo): %s", err)
	}
	if err := eng.SetDir("/bar"); err != nil {
		t.Fatalf("SetDir(/bar): %s", err)
	}
	if err := eng.SetLink("/baz", "foo"); err != nil {
		t.Fatalf("SetLink(/baz): %s", err)
	}

	seen := map[string]bool{}
	if err := eng.GetDir("/", func(n oncefs.Node) { seen[n.Name] = true }); err != nil {
		t.Fatalf("GetDir(/): %s", err)
	}

	want := []string{"bar", "baz", "foo"}
	for _, name := range want {
		if !seen[name] {
			t.Errorf("missing %q in root listing", name)
		}
	}
	if len(seen) != len(want) {
		t.Errorf("root listing has %d entries, want %d", len(seen), len(want))
	}
}

func TestOverlayRead(t *testing.T) {
	eng, _ := newMemEngine(t, 16)

	if err := eng.SetFile("/f"); err != nil {
		t.Fatalf("SetFile: %s", err)
	}
	st, err := eng.GetNode("/f")
	if err != nil {
		t.Fatalf("GetNode: %s", err)
	}

	writes := []struct {
		data   string
		offset uint64
	}{
		{"xxxxxxxxxxxxxxxx", 0},
		{"aaaaaaaaaaaaa", 2},
		{"ddd", 11},
		{"cccccc", 5},
		{"bbb", 5},
	}
	for _, w := range writes {
		if err := eng.SetData(st.Node, []byte(w.data), w.offset); err != nil {
			t.Fatalf("SetData(%q, %d): %s", w.data, w.offset, err)
		}
	}

	buf := make([]byte, 14)
	n, err := eng.GetData(st.Node, buf, 1)
	if err != nil {
		t.Fatalf("GetData: %s", err)
	}
	if n != 14 {
		t.Fatalf("GetData read %d bytes, want 14", n)
	}
	if got := string(buf); got != "xaaabbbcccdddx" {
		t.Errorf("GetData = %q, want %q", got, "xaaabbbcccdddx")
	}
}

func TestTruncate(t *testing.T) {
	eng, _ := newMemEngine(t, 16)

	if err := eng.SetFile("/f"); err != nil {
		t.Fatalf("SetFile: %s", err)
	}
	st, err := eng.GetNode("/f")
	if err != nil {
		t.Fatalf("GetNode: %s", err)
	}

	alphabet := "abcdefghijklmnopqrstuvwxyz"
	for off := 0; off < len(alphabet); off += 8 {
		end := off + 8
		if end > len(alphabet) {
			end = len(alphabet)
		}
		if err := eng.SetData(st.Node, []byte(alphabet[off:end]), uint64(off)); err != nil {
			t.Fatalf("SetData chunk at %d: %s", off, err)
		}
	}

	if err := eng.DelData(st.Node, 18); err != nil {
		t.Fatalf("DelData: %s", err)
	}

	buf := make([]byte, 26)
	n, err := eng.GetData(st.Node, buf, 0)
	if err != nil {
		t.Fatalf("GetData after truncate: %s", err)
	}
	if n != 18 {
		t.Fatalf("GetData after truncate read %d bytes, want 18", n)
	}
	if got := string(buf[:n]); got != "abcdefghijklmnopqr" {
		t.Errorf("GetData after truncate = %q, want %q", got, "abcdefghijklmnopqr")
	}
}

func TestReuseAfterDelete(t *testing.T) {
	// Two usable blocks (block 0 is the reserved null sentinel): exactly
	// enough for two node records, none left over for free-list
	// bookkeeping, forcing NO_SPACE on the third create.
	eng, _ := newMemEngine(t, 3)

	if err := eng.SetFile("/foo"); err != nil {
		t.Fatalf("SetFile(/foo): %s", err)
	}
	if err := eng.SetFile("/bar"); err != nil {
		t.Fatalf("SetFile(/bar): %s", err)
	}

	if err := eng.SetFile("/baz"); err != oncefs.ErrNoSpace {
		t.Fatalf("SetFile(/baz) on full container = %v, want ErrNoSpace", err)
	}

	if err := eng.DelNode("/foo"); err != nil {
		t.Fatalf("DelNode(/foo): %s", err)
	}
	if err := eng.SetFile("/baz"); err != nil {
		t.Fatalf("SetFile(/baz) after delete: %s", err)
	}
}

func TestMoveWithOverwrite(t *testing.T) {
	eng, _ := newMemEngine(t, 16)

	if err := eng.SetFile("/foo"); err != nil {
		t.Fatalf("SetFile(/foo): %s", err)
	}
	if err := eng.SetFile("/bar"); err != nil {
		t.Fatalf("SetFile(/bar): %s", err)
	}
	fooBefore, err := eng.GetNode("/foo")
	if err != nil {
		t.Fatalf("GetNode(/foo): %s", err)
	}

	if err := eng.MoveNode("/foo", "/bar"); err != nil {
		t.Fatalf("MoveNode(/foo, /bar): %s", err)
	}

	if _, err := eng.GetNode("/foo"); err != oncefs.ErrNotFound {
		t.Fatalf("GetNode(/foo) after move = %v, want ErrNotFound", err)
	}
	barAfter, err := eng.GetNode("/bar")
	if err != nil {
		t.Fatalf("GetNode(/bar) after move: %s", err)
	}
	if barAfter.Node != fooBefore.Node {
		t.Errorf("node id changed across move: was %d, now %d", fooBefore.Node, barAfter.Node)
	}

	if err := eng.MoveNode("/foo", "/baz"); err != oncefs.ErrNotFound {
		t.Fatalf("MoveNode(/foo, /baz) after /foo is gone = %v, want ErrNotFound", err)
	}
}
