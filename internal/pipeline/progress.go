package pipeline

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// ByteSource reports how far through its input a stream has read
type ByteSource interface {
	BytesRead() int64
	Size() int64
}

// ProgressReporter prints the share of the input consumed, at most once
// per interval
type ProgressReporter struct {
	src        ByteSource
	interval   time.Duration
	startTime  time.Time
	lastReport time.Time
	log        *zap.Logger
}

// NewProgressReporter creates a reporter whose interval starts now
func NewProgressReporter(src ByteSource, interval time.Duration, log *zap.Logger) *ProgressReporter {
	now := time.Now()
	return &ProgressReporter{
		src:        src,
		interval:   interval,
		startTime:  now,
		lastReport: now,
		log:        log,
	}
}

// Percent returns bytes consumed as a percentage of the input size
func (p *ProgressReporter) Percent() float64 {
	return p.snapshot(time.Now()).percent()
}

// MaybeReport logs progress if at least the interval has passed since the
// previous report. It returns whether a report was written.
func (p *ProgressReporter) MaybeReport(now time.Time) bool {
	if now.Sub(p.lastReport) < p.interval {
		return false
	}
	p.lastReport = now

	p.log.Info("Progress", p.snapshot(now).fields()...)
	return true
}

func (p *ProgressReporter) snapshot(now time.Time) inputPosition {
	return inputPosition{
		read:    p.src.BytesRead(),
		size:    p.src.Size(),
		elapsed: now.Sub(p.startTime),
	}
}

// inputPosition is how far through the input file an import has read
type inputPosition struct {
	read    int64
	size    int64
	elapsed time.Duration
}

func (pos inputPosition) percent() float64 {
	if pos.size <= 0 {
		return 0
	}
	return float64(pos.read) / float64(pos.size) * 100
}

// remaining extrapolates the average byte rate so far over the unread
// bytes. ok is false until there is a rate to extrapolate.
func (pos inputPosition) remaining() (eta time.Duration, ok bool) {
	left := pos.size - pos.read
	if pos.read <= 0 || pos.elapsed <= 0 || left <= 0 {
		return 0, false
	}
	perByte := float64(pos.elapsed) / float64(pos.read)
	return time.Duration(perByte * float64(left)).Round(time.Second), true
}

func (pos inputPosition) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("percent", fmt.Sprintf("%.2f%%", pos.percent())),
		zap.Float64("read_mib", mebibytes(pos.read)),
		zap.Float64("size_mib", mebibytes(pos.size)),
	}
	if eta, ok := pos.remaining(); ok {
		fields = append(fields, zap.Duration("eta", eta))
	}
	return fields
}

// mebibytes rounds n bytes to one decimal MiB
func mebibytes(n int64) float64 {
	return math.Round(float64(n)/(1<<20)*10) / 10
}
