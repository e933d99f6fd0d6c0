package statemachine

import (
	"math/rand"
	"time"

	"github.com/hiplane/hipd/internal/hadb"
	"github.com/hiplane/hipd/internal/hiplog"
	"github.com/hiplane/hipd/internal/metrics"
	"github.com/hiplane/hipd/internal/wire"
)

// maxJitter bounds the random spread added to each retransmission's
// next-due time so that concurrently-established associations don't
// all resend in lockstep.
const maxJitter = 200 * time.Millisecond

// Tick drives the periodic maintenance pass: every HA in the database
// is checked for due retransmission slots, which are resent through
// Outbound and advanced with exponential backoff. It is called by the
// daemon's scheduler on a short, fixed interval, independent of any
// one HA's own backoff schedule.
func (m *Machine) Tick(now time.Time) {
	stateCounts := make(map[string]int)
	var toDelete []*hadb.HA
	m.hadb.ForEach(func(ha *hadb.HA) {
		stateCounts[ha.State.String()]++
		due := DueRetransmits(ha, now)
		if len(due) == 0 {
			return
		}
		for _, idx := range due {
			slot := ha.Retransmit[idx]
			msg, err := wire.Parse(slot.Packet)
			if err != nil {
				continue
			}
			if m.out != nil {
				if err := m.out.Send(msg, ha.PeerIP.String(), ha.PeerPort); err != nil {
					hiplog.GetLogger().WithError(err).WithFields(map[string]interface{}{
						"local_hit": ha.LocalHIT.String(), "peer_hit": ha.PeerHIT.String(),
					}).Warn("retransmit send failed")
				}
			}
			metrics.RetransmitsTotal.WithLabelValues(slot.PacketType.String()).Inc()
			jitter := time.Duration(rand.Int63n(int64(maxJitter)))
			Advance(ha, idx, now, jitter)
		}
		if ha.State == hadb.StateFailed {
			toDelete = append(toDelete, ha)
		}
	})
	for _, state := range []hadb.State{
		hadb.StateUnassoc, hadb.StateI1Sent, hadb.StateI2Sent, hadb.StateR2Sent,
		hadb.StateEstablished, hadb.StateClosing, hadb.StateClosed, hadb.StateFailed,
	} {
		metrics.HAActive.WithLabelValues(state.String()).Set(float64(stateCounts[state.String()]))
	}
	for _, ha := range toDelete {
		hiplog.GetLogger().WithFields(map[string]interface{}{
			"local_hit": ha.LocalHIT.String(), "peer_hit": ha.PeerHIT.String(),
		}).Warn("association failed: retransmission attempts exhausted")
		metrics.AssociationsFailedTotal.Inc()
		m.hadb.Delete(ha)
	}
}
