// Command tcmu-mem wires the in-memory backend into a Device and drives a
// short self-test through it, the way cmd/ublk-mem exercises go-ublk's
// memory backend against a real kernel device. There is no kernel transport
// here — Transport is implemented by a small logging stub — so this is a
// demonstration of the dispatch engine's wiring, not a mountable block
// device.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dispatchcore/tcmu"
	"github.com/dispatchcore/tcmu/backend/mem"
	"github.com/dispatchcore/tcmu/internal/logging"
)

func main() {
	var (
		sizeStr = flag.String("size", "64M", "size of the memory disk (e.g. 64M, 1G)")
		verbose = flag.Bool("v", false, "verbose output")
		workers = flag.Int("workers", 4, "worker pool size for the synchronous memory backend")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	backend := mem.New(size)
	transport := newLoggingTransport(logger)

	dev, err := tcmu.NewDevice(tcmu.DeviceParams{
		ID:               "mem0",
		LogicalBlockSize: 512,
		WorkerCount:      *workers,
		QueueDepth:       256,
	}, backend, transport, tcmu.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create device", "error", err)
		os.Exit(1)
	}

	logger.Info("device created", "id", dev.ID(), "size", formatSize(size), "size_bytes", size)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runSelfTest(ctx, dev, transport); err != nil {
		logger.Error("self-test failed", "error", err)
	} else {
		logger.Info("self-test passed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	fmt.Printf("tcmu-mem running with device %q (%s); press Ctrl+C to stop\n", dev.ID(), formatSize(size))
	<-sigCh

	logger.Info("received shutdown signal")
	if err := dev.Close(context.Background()); err != nil {
		logger.Error("error closing device", "error", err)
	}
}

// runSelfTest issues a WRITE_10 then a READ_10 over the same blocks and
// confirms the readback matches, proving the dispatch engine end to end
// without a real kernel transport.
func runSelfTest(ctx context.Context, dev *tcmu.Device, transport *loggingTransport) error {
	const lba = 0
	const numBlocks = 4
	pattern := make([]byte, numBlocks*512)
	for i := range pattern {
		pattern[i] = byte(i)
	}

	writeCDB := write10CDB(lba, numBlocks)
	writeCmd := tcmu.NewCommand(writeCDB, [][]byte{append([]byte(nil), pattern...)})
	transport.expect(writeCmd)
	dev.Route(ctx, writeCmd)
	if status, ok := transport.wait(writeCmd, 2*time.Second); !ok {
		return fmt.Errorf("write timed out")
	} else if status != tcmu.StatusGood {
		return fmt.Errorf("write completed with status %s", status)
	}

	readBuf := make([]byte, numBlocks*512)
	readCDB := read10CDB(lba, numBlocks)
	readCmd := tcmu.NewCommand(readCDB, [][]byte{readBuf})
	transport.expect(readCmd)
	dev.Route(ctx, readCmd)
	if status, ok := transport.wait(readCmd, 2*time.Second); !ok {
		return fmt.Errorf("read timed out")
	} else if status != tcmu.StatusGood {
		return fmt.Errorf("read completed with status %s", status)
	}

	for i := range pattern {
		if readBuf[i] != pattern[i] {
			return fmt.Errorf("readback mismatch at byte %d: got %d want %d", i, readBuf[i], pattern[i])
		}
	}
	return nil
}

// loggingTransport is cmd/tcmu-mem's stand-in for a kernel char-device
// transport: it logs every completion and lets runSelfTest wait on a
// specific command by identity.
type loggingTransport struct {
	log *logging.Logger

	mu      sync.Mutex
	waiters map[*tcmu.Command]chan tcmu.Status
}

func newLoggingTransport(l *logging.Logger) *loggingTransport {
	return &loggingTransport{log: l, waiters: make(map[*tcmu.Command]chan tcmu.Status)}
}

func (t *loggingTransport) expect(cmd *tcmu.Command) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waiters[cmd] = make(chan tcmu.Status, 1)
}

func (t *loggingTransport) wait(cmd *tcmu.Command, timeout time.Duration) (tcmu.Status, bool) {
	t.mu.Lock()
	ch := t.waiters[cmd]
	t.mu.Unlock()
	select {
	case status := <-ch:
		return status, true
	case <-time.After(timeout):
		return 0, false
	}
}

func (t *loggingTransport) CommandComplete(dev *tcmu.Device, cmd *tcmu.Command, status tcmu.Status) {
	t.log.Debug("command complete", "device", dev.ID(), "status", status.String())
	t.mu.Lock()
	ch, ok := t.waiters[cmd]
	if ok {
		delete(t.waiters, cmd)
	}
	t.mu.Unlock()
	if ok {
		ch <- status
	}
}

func (t *loggingTransport) ProcessingComplete(dev *tcmu.Device) {
	t.log.Debug("device idle", "device", dev.ID())
}

func (t *loggingTransport) NotifyLockLost(dev *tcmu.Device) {
	t.log.Warn("lock lost", "device", dev.ID())
}

func (t *loggingTransport) NotifyConnLost(dev *tcmu.Device) {
	t.log.Warn("connection lost", "device", dev.ID())
}

var _ tcmu.Transport = (*loggingTransport)(nil)

func write10CDB(lba uint32, numBlocks uint16) []byte {
	cdb := make([]byte, 10)
	cdb[0] = 0x2A // WRITE(10)
	cdb[2] = byte(lba >> 24)
	cdb[3] = byte(lba >> 16)
	cdb[4] = byte(lba >> 8)
	cdb[5] = byte(lba)
	cdb[7] = byte(numBlocks >> 8)
	cdb[8] = byte(numBlocks)
	return cdb
}

func read10CDB(lba uint32, numBlocks uint16) []byte {
	cdb := write10CDB(lba, numBlocks)
	cdb[0] = 0x28 // READ(10)
	return cdb
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
