package media

import (
	"container/heap"

	"github.com/pion/rtp"

	"github.com/1ureka/1ureka.net.call/internal/util"
)

// defaultReorderDepth is how many out-of-order packets are held before a
// gap is given up as lost (about 100 ms of audio).
const defaultReorderDepth = 5

// reorderBuffer delivers RTP packets of one remote track in sequence order.
// It is owned by a single render loop and needs no locking.
type reorderBuffer struct {
	started  bool
	expected uint16
	depth    int
	lost     int
	buffer   packetHeap
}

func newReorderBuffer(depth int) *reorderBuffer {
	if depth < 1 {
		depth = 1
	}
	return &reorderBuffer{depth: depth}
}

// Feed processes an incoming packet and returns all packets that can now be
// played in order. The first packet fixes the starting sequence number.
func (r *reorderBuffer) Feed(pkt *rtp.Packet) []*rtp.Packet {
	if !r.started {
		r.started = true
		r.expected = pkt.SequenceNumber
	}

	d := seqDelta(pkt.SequenceNumber, r.expected)
	if d < 0 {
		util.LogTrace("late rtp packet %d (expected %d), dropping", pkt.SequenceNumber, r.expected)
		return nil
	}

	if d > 0 {
		heap.Push(&r.buffer, pkt)
		if r.buffer.Len() <= r.depth {
			return nil
		}
		// Skip the gap and resume at the oldest held packet.
		next := r.buffer[0].SequenceNumber
		r.lost += seqDelta(next, r.expected)
		util.LogTrace("rtp gap %d..%d lost", r.expected, next-1)
		r.expected = next
		return r.drain(nil)
	}

	r.expected++
	return r.drain([]*rtp.Packet{pkt})
}

// Lost returns how many sequence numbers were skipped.
func (r *reorderBuffer) Lost() int {
	return r.lost
}

func (r *reorderBuffer) drain(out []*rtp.Packet) []*rtp.Packet {
	for r.buffer.Len() > 0 {
		d := seqDelta(r.buffer[0].SequenceNumber, r.expected)
		if d > 0 {
			break
		}
		pkt := heap.Pop(&r.buffer).(*rtp.Packet)
		if d < 0 {
			continue // duplicate
		}
		out = append(out, pkt)
		r.expected++
	}
	return out
}

// seqDelta is a - b in 16-bit serial number arithmetic.
func seqDelta(a, b uint16) int {
	return int(int16(a - b))
}

// ---------------------------------------------------------------------------
// packetHeap implements a min-heap sorted by RTP sequence number.
// ---------------------------------------------------------------------------

type packetHeap []*rtp.Packet

func (h packetHeap) Len() int { return len(h) }
func (h packetHeap) Less(i, j int) bool {
	return seqDelta(h[i].SequenceNumber, h[j].SequenceNumber) < 0
}
func (h packetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *packetHeap) Push(x interface{}) { *h = append(*h, x.(*rtp.Packet)) }

func (h *packetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
