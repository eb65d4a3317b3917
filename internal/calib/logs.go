package calib

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// LogWriters owns the engine's four append-only diagnostic logs:
// sigmas.txt, pq.txt, batch.txt, timings.txt. Each is truncated at
// process start and thereafter only ever appended to, one CSV-ish line
// per record — a plain os/bufio implementation rather than a CSV
// library, since every record here is a single comma-joined line with
// no quoting/escaping requirements (see DESIGN.md).
type LogWriters struct {
	mu sync.Mutex

	sigmas   *logFile
	pq       *logFile
	batch    *logFile
	timings  *logFile
}

type logFile struct {
	f *os.File
	w *bufio.Writer
}

func openTruncated(dir, name string) (*logFile, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &logFile{f: f, w: bufio.NewWriter(f)}, nil
}

func (l *logFile) writeLine(line string) error {
	if _, err := l.w.WriteString(line); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *logFile) Close() error {
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.f.Close()
}

// NewLogWriters truncates and opens all four logs under dir.
func NewLogWriters(dir string) (*LogWriters, error) {
	sigmas, err := openTruncated(dir, "sigmas.txt")
	if err != nil {
		return nil, err
	}
	pq, err := openTruncated(dir, "pq.txt")
	if err != nil {
		return nil, err
	}
	batch, err := openTruncated(dir, "batch.txt")
	if err != nil {
		return nil, err
	}
	timings, err := openTruncated(dir, "timings.txt")
	if err != nil {
		return nil, err
	}
	return &LogWriters{sigmas: sigmas, pq: pq, batch: batch, timings: timings}, nil
}

func csvFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func covDiagonal(cov [][]float64) []float64 {
	d := len(cov)
	out := make([]float64, d)
	for i := 0; i < d; i++ {
		out[i] = cov[i][i]
	}
	return out
}

func record(keyframeID int, w *CalibrationWindow, withKL bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d,%s,%s", keyframeID, csvFloats(covDiagonal(w.Covariance)), strconv.FormatFloat(w.Score, 'g', -1, 64))
	fmt.Fprintf(&b, ",%s", csvFloats(w.Mean))
	if withKL {
		fmt.Fprintf(&b, ",%s", strconv.FormatFloat(w.KLDivergence, 'g', -1, 64))
	}
	return b.String()
}

// WriteSigmas appends one line to sigmas.txt: the candidate window
// evaluated at this keyframe, including its KL divergence against the
// queue.
func (l *LogWriters) WriteSigmas(keyframeID int, w *CalibrationWindow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sigmas.writeLine(record(keyframeID, w, true))
}

// WritePQ appends one line to pq.txt: the priority queue's pooled
// distribution after a refresh.
func (l *LogWriters) WritePQ(keyframeID int, w *CalibrationWindow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pq.writeLine(record(keyframeID, w, false))
}

// WriteBatch appends one line to batch.txt: a full-batch analysis
// result (the recalibration batch or the compare-with-batch diagnostic).
func (l *LogWriters) WriteBatch(keyframeID int, w *CalibrationWindow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batch.writeLine(record(keyframeID, w, false))
}

// WriteTimings appends a free-form timing line, e.g.
// "keyframe_id,stage,millis".
func (l *LogWriters) WriteTimings(keyframeID int, stage string, millis float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timings.writeLine(fmt.Sprintf("%d,%s,%s", keyframeID, stage, strconv.FormatFloat(millis, 'g', -1, 64)))
}

// Close flushes and closes all four logs.
func (l *LogWriters) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lf := range []*logFile{l.sigmas, l.pq, l.batch, l.timings} {
		if err := lf.Close(); err != nil {
			return err
		}
	}
	return nil
}
