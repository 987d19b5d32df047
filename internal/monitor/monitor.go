// Package monitor implements the periodic throughput ticker and the
// process memory ceiling probe described in spec §5 and §9 ("Memory
// ceiling polling") and supplemented from the original's Monitor.h
// (Converter/include/Monitor.h in the retrieval pack's original_source/):
// a goroutine that logs points/sec and MB/sec during chunking and
// indexing, plus a polling helper that lets workers throttle admission
// against a memory budget.
package monitor

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/shirou/gopsutil/v3/process"
)

// Monitor accumulates point/byte counters from concurrent producers and
// periodically logs throughput, mirroring the original's Monitor.h
// ticker (§9 supplemented features).
type Monitor struct {
	pointsProcessed int64
	bytesProcessed  int64
	label           string
	stop            chan struct{}
	done            chan struct{}
}

// New starts a monitor that logs a throughput line every interval under
// the given phase label ("chunking", "indexing"), until Stop is called.
func New(label string, interval time.Duration) *Monitor {
	m := &Monitor{label: label, stop: make(chan struct{}), done: make(chan struct{})}
	go m.run(interval)
	return m
}

func (m *Monitor) run(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	var lastPoints, lastBytes int64
	lastTick := start

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			points := atomic.LoadInt64(&m.pointsProcessed)
			bytes := atomic.LoadInt64(&m.bytesProcessed)
			elapsed := now.Sub(lastTick).Seconds()
			if elapsed <= 0 {
				elapsed = interval.Seconds()
			}
			pps := float64(points-lastPoints) / elapsed
			mbps := float64(bytes-lastBytes) / elapsed / (1024 * 1024)
			glog.Infof("%s: %d points, %.0f pts/sec, %.1f MB/sec, elapsed %s",
				m.label, points, pps, mbps, time.Since(start).Round(time.Second))
			lastPoints, lastBytes, lastTick = points, bytes, now
		}
	}
}

// AddPoints records n points as having been processed since startup.
func (m *Monitor) AddPoints(n int64) {
	atomic.AddInt64(&m.pointsProcessed, n)
}

// AddBytes records n bytes as having been written since startup.
func (m *Monitor) AddBytes(n int64) {
	atomic.AddInt64(&m.bytesProcessed, n)
}

// Stop halts the ticker goroutine and blocks until it has exited.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// Totals returns the cumulative points/bytes processed so far.
func (m *Monitor) Totals() (points, bytes int64) {
	return atomic.LoadInt64(&m.pointsProcessed), atomic.LoadInt64(&m.bytesProcessed)
}

// MemoryCeiling polls this process's resident set size against a byte
// budget, per §5 "waitUntilMemoryBelow, polling virtual_usedByProcess"
// and §9's note that a portable substitute may poll process RSS instead
// of an OS-specific virtual-memory syscall.
type MemoryCeiling struct {
	limitBytes uint64
	proc       *process.Process
}

// NewMemoryCeiling opens a handle on the current process for RSS
// polling. limitBytes of 0 disables the ceiling (Wait always returns
// immediately).
func NewMemoryCeiling(limitBytes uint64) (*MemoryCeiling, error) {
	if limitBytes == 0 {
		return &MemoryCeiling{limitBytes: 0}, nil
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &MemoryCeiling{limitBytes: limitBytes, proc: p}, nil
}

// UsedBytes returns the process's current resident set size, or 0 if the
// ceiling is disabled or the probe fails (fails open: a probe error
// never blocks the pipeline).
func (m *MemoryCeiling) UsedBytes() uint64 {
	if m.proc == nil {
		return 0
	}
	info, err := m.proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}

// WaitUntilBelow blocks, polling at the given interval, until resident
// memory falls under the configured ceiling. Cooperative 10ms-granularity
// polling per §5 "Suspension / blocking".
func (m *MemoryCeiling) WaitUntilBelow(interval time.Duration) {
	if m.limitBytes == 0 {
		return
	}
	for m.UsedBytes() > m.limitBytes {
		time.Sleep(interval)
	}
}
