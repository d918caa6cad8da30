package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide transfer counter.
var Stats = &stats{}

type stats struct {
	OpenedSessions atomic.Int64 // cumulative count of sessions since process start
	ClosedSessions atomic.Int64 // cumulative count of finished sessions (any outcome)
	BytesSent      atomic.Int64 // cumulative datagram bytes written to the transport
	BytesRecv      atomic.Int64 // cumulative datagram bytes read from the transport
	Retransmits    atomic.Int64 // packets sent again after a timeout or mismatch
}

func (s *stats) OpenSession()   { s.OpenedSessions.Add(1) }
func (s *stats) CloseSession()  { s.ClosedSessions.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddRetransmit() { s.Retransmits.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// reportInterval is how often StartStatsReporter samples the counters.
const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs transfer statistics
// every 10 seconds while there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if line, ok := formatDelta(prev, cur, reportInterval); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	opened, closed, sent, recv, retrans int64
}

func takeSnapshot() snapshot {
	return snapshot{
		opened:  Stats.OpenedSessions.Load(),
		closed:  Stats.ClosedSessions.Load(),
		sent:    Stats.BytesSent.Load(),
		recv:    Stats.BytesRecv.Load(),
		retrans: Stats.Retransmits.Load(),
	}
}

// formatDelta renders the traffic between two snapshots. It returns false
// when nothing worth reporting happened in the interval.
func formatDelta(prev, cur snapshot, interval time.Duration) (string, bool) {
	secs := interval.Seconds()
	outS := float64(cur.sent-prev.sent) / secs
	inS := float64(cur.recv-prev.recv) / secs
	opened := cur.opened - prev.opened
	closed := cur.closed - prev.closed
	retrans := cur.retrans - prev.retrans

	if opened == 0 && closed == 0 && retrans == 0 && inS <= 10 && outS <= 10 {
		return "", false
	}
	return formatStats(inS, outS, opened, closed, retrans), true
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// FormatBytes renders a byte count for end-of-transfer summaries.
func FormatBytes(n int64) string {
	return formatBytes(float64(n))
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, opened, closed, retrans int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sessions: %2d↑ %2d↓ | Resent: %d",
		formatBytes(inS),
		formatBytes(outS),
		opened,
		closed,
		retrans,
	)
}
