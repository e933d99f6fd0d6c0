package statemachine

import "github.com/hiplane/hipd/internal/wire"

// UpdateKind classifies an UPDATE packet by which of SEQ, ACK, and
// ESP_INFO it carries.
type UpdateKind int

const (
	// UpdateFirst carries SEQ (and typically ANCHOR parameters): the
	// start of an anchor or locator update.
	UpdateFirst UpdateKind = iota
	// UpdateSecond carries SEQ+ACK+ESP_INFO: a combined ack-and-rekey
	// response to a first UPDATE.
	UpdateSecond
	// UpdateThird carries ACK+ESP_INFO only: the final acknowledgment.
	UpdateThird
	// UpdateUnknown carries none of the above; callers should drop it.
	UpdateUnknown
)

// ClassifyUpdate inspects the present TLVs to determine which leg of
// the UPDATE family msg represents.
func ClassifyUpdate(msg *wire.Message) UpdateKind {
	_, hasSeq := msg.Find(wire.PSequence)
	_, hasAck := msg.Find(wire.PACK)
	_, hasESPInfo := msg.Find(wire.PESPInfo)

	switch {
	case hasSeq && !hasAck:
		return UpdateFirst
	case hasSeq && hasAck && hasESPInfo:
		return UpdateSecond
	case !hasSeq && hasAck && hasESPInfo:
		return UpdateThird
	default:
		return UpdateUnknown
	}
}
