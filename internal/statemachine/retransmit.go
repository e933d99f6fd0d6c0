package statemachine

import (
	"time"

	"github.com/hiplane/hipd/internal/hadb"
	"github.com/hiplane/hipd/internal/wire"
)

// baseBackoff and maxAttempts bound the exponential-backoff-with-jitter
// retransmission schedule; an HA whose slot exhausts maxAttempts
// without a reply transitions to FAILED.
const (
	baseBackoff = 500 * time.Millisecond
	maxAttempts = 5
)

// recordRetransmit copies msg into the first free (or, failing that,
// the oldest) retransmission slot for its packet type, so it can be
// resent on backoff if no reply clears it first.
func recordRetransmit(ha *hadb.HA, msg *wire.Message) {
	encoded, err := wire.Serialize(msg)
	if err != nil {
		return
	}
	slotIdx := -1
	for i, s := range ha.Retransmit {
		if !s.InUse {
			slotIdx = i
			break
		}
	}
	if slotIdx == -1 {
		slotIdx = 0
		for i := range ha.Retransmit {
			if ha.Retransmit[i].NextDue.Before(ha.Retransmit[slotIdx].NextDue) {
				slotIdx = i
			}
		}
	}
	ha.Retransmit[slotIdx] = hadb.RetransmitSlot{
		PacketType: msg.Header.Type,
		Packet:     encoded,
		Attempts:   1,
		NextDue:    time.Now().Add(baseBackoff),
		InUse:      true,
	}
}

// ClearRetransmitsForType invalidates every slot of packetType, called
// once the expected reply has been processed — "a reply clears
// retransmissions for all older packets of the same flow before any
// new packet is sent".
func ClearRetransmitsForType(ha *hadb.HA, packetType wire.PacketType) {
	for i, s := range ha.Retransmit {
		if s.InUse && s.PacketType == packetType {
			ha.Retransmit[i] = hadb.RetransmitSlot{}
		}
	}
}

// DueRetransmits returns the slots whose NextDue has passed, used by
// the maintenance tick to drive resends; it does not mutate state —
// callers invoke Outbound.Send and then call Advance for each.
func DueRetransmits(ha *hadb.HA, now time.Time) []int {
	var due []int
	for i, s := range ha.Retransmit {
		if s.InUse && !s.NextDue.After(now) {
			due = append(due, i)
		}
	}
	return due
}

// Advance applies exponential backoff with jitter to slot i, or marks
// the HA FAILED if maxAttempts has been exhausted.
func Advance(ha *hadb.HA, i int, now time.Time, jitter time.Duration) {
	s := &ha.Retransmit[i]
	s.Attempts++
	if s.Attempts > maxAttempts {
		ha.State = hadb.StateFailed
		*s = hadb.RetransmitSlot{}
		return
	}
	backoff := baseBackoff * time.Duration(1<<uint(s.Attempts-1))
	s.NextDue = now.Add(backoff + jitter)
}
