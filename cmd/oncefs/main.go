// Command oncefs mounts an oncefs container as a FUSE filesystem.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oncefs/oncefs"
	"github.com/oncefs/oncefs/internal/blockio"
)

const usage = `Usage: oncefs [options] <file> <directory>

Pass ":memory:" in place of a file path to use RAM instead of a backing file.

Options:
    --help              Show this info.
    --format            Format (wipe) the container before mounting.
    --payload-size N    Payload bytes per block (default 1024). Must
                         match the value the container was formatted with.
    --blocks N          Block count for a ":memory:" container (required
                         when the container path is ":memory:").
    --debug             Log every FUSE request.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "oncefs:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	format := false
	debug := false
	payloadSize := 1024
	maxBlocks := 0
	var positional []string

	for i := 0; i < len(args); i++ {
		switch a := args[i]; a {
		case "--help":
			fmt.Print(usage)
			os.Exit(1)
		case "--format":
			format = true
		case "--debug":
			debug = true
		case "--payload-size":
			i++
			if i >= len(args) {
				return fmt.Errorf("--payload-size requires a value")
			}
			if _, err := fmt.Sscanf(args[i], "%d", &payloadSize); err != nil {
				return fmt.Errorf("invalid --payload-size %q: %w", args[i], err)
			}
		case "--blocks":
			i++
			if i >= len(args) {
				return fmt.Errorf("--blocks requires a value")
			}
			if _, err := fmt.Sscanf(args[i], "%d", &maxBlocks); err != nil {
				return fmt.Errorf("invalid --blocks %q: %w", args[i], err)
			}
		default:
			positional = append(positional, a)
		}
	}

	if len(positional) != 2 {
		fmt.Print(usage)
		return fmt.Errorf("expected <file> and <directory> arguments")
	}
	container, mountpoint := positional[0], positional[1]

	blockSize := payloadSize + blockHeaderSize
	dev, err := blockio.Open(blockio.Config{
		Path:      container,
		BlockSize: blockSize,
		MaxBlocks: maxBlocks,
	})
	if err != nil {
		return fmt.Errorf("opening container: %w", err)
	}
	defer dev.Close()

	eng, err := oncefs.New(dev, format)
	if err != nil {
		return fmt.Errorf("initializing filesystem: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return oncefs.Mount(ctx, mountpoint, eng, debug)
}

// blockHeaderSize mirrors oncefs's tag+data header size (ONCEFS_OVERHEAD_SIZE
// in the original container format), used to translate a user-facing
// payload size into the on-disk block size.
const blockHeaderSize = 23
