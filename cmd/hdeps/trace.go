package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"
)

// traceEvent is one entry of the Chrome Trace Event Format
// (https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU),
// the "array of events" shape: each object stands alone, no wrapper object
// required. We only ever emit complete ("X") duration events and counter
// ("C") events, the two kinds --trace/--stats need.
type traceEvent struct {
	Name string         `json:"name"`
	Ph   string         `json:"ph"`
	Ts   int64          `json:"ts"`
	Dur  int64          `json:"dur,omitempty"`
	Pid  int            `json:"pid"`
	Tid  int            `json:"tid"`
	Args map[string]any `json:"args,omitempty"`
}

// traceWriter accumulates timed regions and writes them as a JSON array on
// Close. A nil *traceWriter is valid and makes begin/end/startStatsSampler
// no-ops, so callers never need a "was --trace passed" branch.
type traceWriter struct {
	file  *os.File
	start time.Time

	mu     sync.Mutex
	events []traceEvent
}

func newTraceWriter(path string) (*traceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace file %s: %w", path, err)
	}

	return &traceWriter{file: f, start: time.Now()}, nil
}

func (t *traceWriter) Close() error {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	events := t.events
	t.mu.Unlock()

	enc := json.NewEncoder(t.file)
	if err := enc.Encode(events); err != nil {
		t.file.Close()

		return fmt.Errorf("writing trace: %w", err)
	}

	return t.file.Close()
}

func (t *traceWriter) record(ev traceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
}

// region is a single in-flight timed span returned by begin.
type region struct {
	t     *traceWriter
	name  string
	start time.Time
}

// begin starts a named duration region. Calling end on a nil-traceWriter's
// region is a no-op, so "trace.begin(...)" reads naturally whether or not
// --trace was passed.
func (t *traceWriter) begin(name string) region {
	if t == nil {
		return region{}
	}

	return region{t: t, name: name, start: time.Now()}
}

func (r region) end() {
	if r.t == nil {
		return
	}

	r.t.record(traceEvent{
		Name: r.name,
		Ph:   "X",
		Ts:   r.start.Sub(r.t.start).Microseconds(),
		Dur:  time.Since(r.start).Microseconds(),
		Pid:  1,
		Tid:  1,
	})
}

// startStatsSampler samples process CPU percent every interval into a
// counter event, mirroring cli.py's _stats_thread (prev_ts/prev_process_time
// deltas converted to a percentage). Returns a stop func; calling it on a
// nil traceWriter's sampler is safe.
func (t *traceWriter) startStatsSampler(interval time.Duration) func() {
	if t == nil {
		return func() {}
	}

	done := make(chan struct{})

	go func() {
		prevWall := time.Now()
		prevCPU := processCPUTime()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				cpu := processCPUTime()
				wallDelta := now.Sub(prevWall).Seconds()

				var pct float64
				if wallDelta > 0 {
					pct = 100 * (cpu - prevCPU).Seconds() / wallDelta
				}

				t.record(traceEvent{
					Name: "proc_cpu_pct",
					Ph:   "C",
					Ts:   now.Sub(t.start).Microseconds(),
					Pid:  1,
					Tid:  1,
					Args: map[string]any{"value": pct},
				})

				prevWall = now
				prevCPU = cpu
			}
		}
	}()

	return func() { close(done) }
}

// processCPUTime returns cumulative user+system CPU time consumed by this
// process so far, via getrusage(RUSAGE_SELF); --stats is a unix-only
// refinement on top of --trace, matching the original tool's own
// Linux/macOS-oriented deployment target.
func processCPUTime() time.Duration {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}

	user := time.Duration(ru.Utime.Sec)*time.Second + time.Duration(ru.Utime.Usec)*time.Microsecond
	sys := time.Duration(ru.Stime.Sec)*time.Second + time.Duration(ru.Stime.Usec)*time.Microsecond

	return user + sys
}
