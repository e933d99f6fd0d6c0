package wire

import "encoding/binary"

// Checksum computes the 16-bit one's-complement Internet checksum over a
// pseudo-header (sender HIT, receiver HIT, upstream protocol, packet
// length) followed by the HIP packet with the checksum field treated as
// zero. pkt must already have bytes [4:6] zeroed by the caller
// (Serialize builds pkt with the checksum slot still zero, then calls
// this).
func Checksum(pkt []byte, sender, receiver HIT) uint16 {
	var pseudo []byte
	pseudo = append(pseudo, sender[:]...)
	pseudo = append(pseudo, receiver[:]...)
	var lengthProto [4]byte
	binary.BigEndian.PutUint16(lengthProto[0:2], uint16(len(pkt)))
	lengthProto[3] = pkt[0] // next-header / protocol number
	pseudo = append(pseudo, lengthProto[:]...)

	var sum uint32
	sum += sumWords(pseudo)
	// checksum field (bytes 4:6) is zero in pkt when this is called from
	// Serialize, so folding it in unconditionally is safe.
	sum += sumWords(pkt)

	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

func sumWords(b []byte) uint32 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	return sum
}
