// Package health implements C4, the file-integrity verifier: a cheap
// local read-based check followed by an external ffprobe probe for
// container/duration sanity. The external probe runs ffprobe under a
// context timeout and parses the single plain-text duration value it
// prints.
package health

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/errs"
	"github.com/omniscan/mediasync/internal/metrics"
)

// ResultKind classifies the outcome of Check.
type ResultKind string

const (
	Healthy  ResultKind = "healthy"
	Corrupt  ResultKind = "corrupt"
	Timeout  ResultKind = "timeout"
	Ignored  ResultKind = "ignored"
	ErrorKnd ResultKind = "error"
)

// Result is the outcome of a single Check call.
type Result struct {
	Path     string
	Kind     ResultKind
	Reason   string
	Size     int64
	Duration time.Duration
}

// Options configures the verifier from config.Config.
type Options struct {
	IgnoreSamples bool
	MinDuration   time.Duration
	ProbeTimeout  time.Duration
	FFProbeBin    string // defaults to "ffprobe"
}

// EventSink is the narrow slice of stuck.Tracker the verifier needs:
// every Check result, healthy or not, is persisted to the event log, not
// just failures.
type EventSink interface {
	AppendEvent(eventType, details, status string) error
}

// Verifier is C4, the HealthVerifier.
type Verifier struct {
	opts Options
	sink EventSink
	log  *logrus.Entry

	mu     chanMutex
	recent []Result
}

// chanMutex is a trivial buffered-channel mutex, matching the lightweight
// synchronization style the teacher uses for its small shared rings.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}
func (c chanMutex) Lock()   { <-c }
func (c chanMutex) Unlock() { c <- struct{}{} }

// New builds a Verifier. A zero-value FFProbeBin defaults to "ffprobe" on
// PATH. sink receives every check result as an event-log entry; it may be
// nil, in which case results are only kept in the in-memory ring.
func New(opts Options, sink EventSink, log *logrus.Entry) *Verifier {
	if opts.FFProbeBin == "" {
		opts.FFProbeBin = "ffprobe"
	}
	return &Verifier{opts: opts, sink: sink, log: log, mu: newChanMutex()}
}

const (
	tailSampleSize  = 1024
	tailSampleFrom  = 1 << 20 // 1MiB from the end
	largeFileSize   = 5 << 20 // 5MiB
	sampledReadsNum = 3
)

// Check runs the five-step health procedure described in SPEC_FULL.md
// §4.4 against the file at path.
func (v *Verifier) Check(ctx context.Context, path string) Result {
	res := v.check(ctx, path)
	metrics.HealthChecksTotal.Inc()
	if res.Kind == Corrupt || res.Kind == Timeout || res.Kind == ErrorKnd {
		metrics.HealthCheckFailures.Inc()
	}
	v.record(res)
	return res
}

func (v *Verifier) check(ctx context.Context, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return Result{Path: path, Kind: ErrorKnd, Reason: err.Error()}
	}
	size := info.Size()
	if size == 0 {
		return Result{Path: path, Kind: Corrupt, Reason: "0 bytes", Size: size}
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{Path: path, Kind: ErrorKnd, Reason: err.Error(), Size: size}
	}
	defer f.Close()

	if err := readAt(f, maxInt64(0, size-tailSampleFrom), tailSampleSize); err != nil {
		return Result{Path: path, Kind: Corrupt, Reason: "incomplete: " + err.Error(), Size: size}
	}

	if size > largeFileSize {
		lo, hi := int64(tailSampleFrom), size-tailSampleFrom
		for i := 0; i < sampledReadsNum; i++ {
			offset := lo
			if hi > lo {
				offset = lo + rand.Int63n(hi-lo)
			}
			if err := readAt(f, offset, tailSampleSize); err != nil {
				return Result{Path: path, Kind: Corrupt, Reason: "incomplete sample: " + err.Error(), Size: size}
			}
		}
	}

	duration, err := v.probeDuration(ctx, path)
	switch {
	case err == context.DeadlineExceeded:
		return Result{Path: path, Kind: Timeout, Reason: "ffprobe timed out", Size: size}
	case err != nil:
		return Result{Path: path, Kind: Corrupt, Reason: "bitstream: " + err.Error(), Size: size}
	case duration <= 0:
		return Result{Path: path, Kind: Corrupt, Reason: "no duration reported", Size: size}
	}

	if v.opts.IgnoreSamples && duration < v.opts.MinDuration {
		return Result{Path: path, Kind: Ignored, Reason: "below minimum duration", Size: size, Duration: duration}
	}
	return Result{Path: path, Kind: Healthy, Size: size, Duration: duration}
}

func readAt(f *os.File, offset int64, n int) error {
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if read == 0 && err != nil {
		return err
	}
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// probeDuration shells out to ffprobe with a bounded timeout through a
// context-scoped exec.Command, asking only for format=duration in
// plain-text (default=noprint_wrappers=1:nokey=1) output.
func (v *Verifier) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	timeout := v.opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.opts.FFProbeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return 0, context.DeadlineExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrHealth, err)
	}
	seconds, err := strconv.ParseFloat(trimNewline(string(out)), 64)
	if err != nil {
		return 0, nil // empty/unparsable output is handled by the duration<=0 branch
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

func (v *Verifier) record(r Result) {
	v.mu.Lock()
	v.recent = append(v.recent, r)
	if len(v.recent) > 20 {
		v.recent = v.recent[len(v.recent)-20:]
	}
	v.mu.Unlock()

	v.log.WithFields(logrus.Fields{
		"path":     r.Path,
		"kind":     r.Kind,
		"size":     humanize.Bytes(uint64(r.Size)),
		"duration": r.Duration,
	}).Debug("health check result")

	if v.sink == nil {
		return
	}
	details := r.Path
	if r.Reason != "" {
		details += ": " + r.Reason
	}
	if err := v.sink.AppendEvent("health", details, string(r.Kind)); err != nil {
		v.log.WithError(err).Warn("failed to persist health check result")
	}
}

// Recent returns up to the last 20 check results, newest last.
func (v *Verifier) Recent() []Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Result, len(v.recent))
	copy(out, v.recent)
	return out
}
