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

// Stats is the process-wide media/relay counter.
var Stats = &stats{}

type stats struct {
	PacketsSent atomic.Int64 // RTP packets written to the local audio track
	PacketsRecv atomic.Int64 // RTP packets read from the remote audio track
	BytesSent   atomic.Int64 // cumulative audio payload bytes sent
	BytesRecv   atomic.Int64 // cumulative audio payload bytes received
	Reconnects  atomic.Int64 // relay reconnect attempts scheduled
}

func (s *stats) AddSent(n int) {
	s.PacketsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.PacketsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddReconnect() { s.Reconnects.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics
// every 10 seconds while audio is flowing. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevReconnects int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				reconnects := Stats.Reconnects.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				retries := reconnects - prevReconnects

				if inS > 0 || outS > 0 || retries > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, Stats.PacketsRecv.Load(), retries))
				}

				prevSent = sent
				prevRecv = recv
				prevReconnects = reconnects

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, packets, retries int64) string {
	return fmt.Sprintf("Audio in: %s/s | out: %s/s | rx packets: %d | relay retries: %d",
		formatBytes(inS),
		formatBytes(outS),
		packets,
		retries,
	)
}
