package statemachine

import (
	"fmt"
	"net"
	"time"

	"github.com/hiplane/hipd/internal/espprot"
	"github.com/hiplane/hipd/internal/filter"
	"github.com/hiplane/hipd/internal/hadb"
	"github.com/hiplane/hipd/internal/hid"
	"github.com/hiplane/hipd/internal/hiperr"
	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/metrics"
	"github.com/hiplane/hipd/internal/puzzle"
	"github.com/hiplane/hipd/internal/sa"
	"github.com/hiplane/hipd/internal/wire"
)

func ctxOf(v any) *Context { return v.(*Context) }

// registerCoreChains wires the canonical transition-table paths: I1 in
// UNASSOC, R1 in I1_SENT, I2 in UNASSOC and I2_SENT (collision rule),
// R2 in I2_SENT, CLOSE/CLOSE_ACK in any relevant state.
func registerCoreChains(r *filter.Registry) {
	r.Register(filter.Key{PacketType: int(wire.TypeI1), State: int(hadb.StateUnassoc)}, chainI1())
	r.Register(filter.Key{PacketType: int(wire.TypeR1), State: int(hadb.StateI1Sent)}, chainR1())
	r.Register(filter.Key{PacketType: int(wire.TypeI2), State: int(hadb.StateUnassoc)}, chainI2(false))
	r.Register(filter.Key{PacketType: int(wire.TypeI2), State: int(hadb.StateI2Sent)}, chainI2(true))
	r.Register(filter.Key{PacketType: int(wire.TypeI2), State: int(hadb.StateR2Sent)}, chainI2Idempotent())
	r.Register(filter.Key{PacketType: int(wire.TypeR2), State: int(hadb.StateI2Sent)}, chainR2())
	r.Register(filter.Key{PacketType: int(wire.TypeUpdate), State: int(hadb.StateEstablished)}, chainUpdate())
	r.Register(filter.Key{PacketType: int(wire.TypeClose), State: int(hadb.StateEstablished)}, chainClose())
	r.Register(filter.Key{PacketType: int(wire.TypeCloseAck), State: int(hadb.StateClosing)}, chainCloseAck())
}

// chainI1 responds to an incoming I1 with a signed R1 carrying a puzzle
// and a DH/transform offer from the R1 cache. The HA itself stays
// UNASSOC — per the transition table, a responder does not commit state
// until I2 arrives.
func chainI1() *filter.Chain {
	return filter.NewChain([]filter.Step{
		{Priority: PriorityCheck, Name: "check-i1-well-formed", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			if ctx.Message.Header.ReceiverHIT.IsZero() {
				return filter.Abort, hiperr.New(hiperr.KindMalformed, "statemachine.chainI1", fmt.Errorf("I1 addressed to zero HIT"))
			}
			return filter.Continue, nil
		}},
		{Priority: PriorityHandle, Name: "handle-generate-puzzle", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			local, ok := ctx.HIDs.Lookup(ctx.Message.Header.ReceiverHIT, 0)
			if !ok {
				return filter.Abort, hiperr.New(hiperr.KindResourceExhausted, "statemachine.chainI1", fmt.Errorf("no local identity for responder HIT"))
			}
			i, k, dhKeys, err := ctx.Puzzles.Generate(ctx.Message.Header.ReceiverHIT, ctx.DHPreference)
			if err != nil {
				return filter.Abort, err
			}
			reply, err := buildR1(local, ctx.Message.Header.SenderHIT, i, k, ctx.DHPreference, dhKeys, ctx.HIPTransforms)
			if err != nil {
				return filter.Abort, err
			}
			ctx.Reply = reply

			ctx.HA.PeerIP = net.ParseIP(ctx.SrcIP)
			ctx.HA.PeerPort = ctx.SrcPort
			ctx.HA.LocalIP = ctx.LocalIP
			if ctx.Conntrack != nil {
				ctx.Conntrack.OnI1(ctx.Message.Header.SenderHIT, ctx.Message.Header.ReceiverHIT)
			}
			return filter.Continue, nil
		}},
	})
}

// buildR1 assembles a signed R1: PUZZLE, one DIFFIE_HELLMAN per offered
// group, HIP_TRANSFORM, HOST_ID, and a SIGNATURE2 covering everything
// before it.
func buildR1(local *hid.Entry, peer wire.HIT, i uint64, k uint8, groups []hipcrypto.GroupID, dhKeys map[hipcrypto.GroupID]hipcrypto.KeyAgreement, transforms []uint16) (*wire.Message, error) {
	hdr := wire.Header{Type: wire.TypeR1, Version: wire.Version2, SenderHIT: local.HIT, ReceiverHIT: peer}
	msg := &wire.Message{Header: hdr}

	msg.Add(wire.PPuzzle, encodePuzzle(i, k))
	for _, g := range groups {
		kp, ok := dhKeys[g]
		if !ok {
			continue
		}
		msg.Add(wire.PDiffieHellman, wire.EncodeDH(uint8(g), kp.PublicBytes()))
	}
	msg.Add(wire.PHIPTransform, wire.EncodeTransformList(transforms))
	msg.Add(wire.PHostID, local.Canonical)

	if err := signParam(msg, wire.PHIPSignature2, local); err != nil {
		return nil, err
	}
	return msg, nil
}

// signParam appends a placeholder-sized signature TLV, signs the
// message as it stands (placeholder content all zero, matching
// wire.ZeroedForSignature's shape), and splices the real signature back
// in. Any parameter added after this call is NOT covered.
func signParam(msg *wire.Message, paramType uint16, local *hid.Entry) error {
	placeholderLen := 2 + hipcrypto.SignatureLen(local.Signer)
	msg.Add(paramType, make([]byte, placeholderLen))
	preimage, err := wire.Serialize(msg)
	if err != nil {
		return hiperr.New(hiperr.KindFatal, "statemachine.signParam", err)
	}
	sig, err := local.Signer.Sign(preimage)
	if err != nil {
		return err
	}
	msg.Params[len(msg.Params)-1].Contents = wire.EncodeSignature(uint16(local.Algo), sig)
	return nil
}

// verifySignature reconstructs the preimage that must have been signed
// (the parameter's content zeroed, same length, and every parameter
// after it left out, as signParam signed it) and checks it against the
// TLV's carried algorithm and signature bytes.
func verifySignature(msg *wire.Message, paramType uint16, verifier hipcrypto.Verifier) error {
	sigTLV, ok := msg.Find(paramType)
	if !ok {
		return hiperr.New(hiperr.KindMalformed, "statemachine.verifySignature", fmt.Errorf("missing signature parameter %d", paramType))
	}
	_, sigBytes, err := wire.DecodeSignature(sigTLV.Contents)
	if err != nil {
		return err
	}
	zeroed := wire.ZeroedForSignature(msg, paramType)
	for i, p := range zeroed.Params {
		if p.Type == paramType {
			zeroed.Params = zeroed.Params[:i+1]
			break
		}
	}
	preimage, err := wire.Serialize(zeroed)
	if err != nil {
		return hiperr.New(hiperr.KindFatal, "statemachine.verifySignature", err)
	}
	if err := verifier.Verify(preimage, sigBytes); err != nil {
		return hiperr.New(hiperr.KindAuthFailed, "statemachine.verifySignature", err)
	}
	return nil
}

func encodePuzzle(i uint64, k uint8) []byte {
	out := make([]byte, 12)
	out[0] = k
	for n := 0; n < 8; n++ {
		out[4+n] = byte(i >> uint(56-8*n))
	}
	return out
}

func decodePuzzle(b []byte) (i uint64, k uint8, err error) {
	if len(b) < 12 {
		return 0, 0, hiperr.New(hiperr.KindMalformed, "statemachine.decodePuzzle", fmt.Errorf("PUZZLE too short"))
	}
	k = b[0]
	for n := 0; n < 8; n++ {
		i = (i << 8) | uint64(b[4+n])
	}
	return i, k, nil
}

// chainR1 verifies the responder's identity and signature, selects a
// mutually-supported DH group and transform with downgrade protection,
// solves the puzzle, and sends I2.
func chainR1() *filter.Chain {
	return filter.NewChain([]filter.Step{
		{Priority: PriorityCheck, Name: "check-r1-puzzle-present", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			if _, ok := ctx.Message.Find(wire.PPuzzle); !ok {
				return filter.Abort, hiperr.New(hiperr.KindMalformed, "statemachine.chainR1", fmt.Errorf("R1 missing PUZZLE"))
			}
			return filter.Continue, nil
		}},
		{Priority: PriorityCheck + 1, Name: "check-r1-required-params", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			for _, pt := range []uint16{wire.PDiffieHellman, wire.PHIPTransform, wire.PHostID, wire.PHIPSignature2} {
				if _, ok := ctx.Message.Find(pt); !ok {
					return filter.Abort, hiperr.New(hiperr.KindMalformed, "statemachine.chainR1", fmt.Errorf("R1 missing parameter %d", pt))
				}
			}
			return filter.Continue, nil
		}},
		{Priority: PriorityHandle, Name: "handle-verify-and-send-i2", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			ha := ctx.HA

			hostIDTLV, _ := ctx.Message.Find(wire.PHostID)
			peerHostID, err := wire.DecodeHostID(hostIDTLV.Contents)
			if err != nil {
				return filter.Abort, err
			}
			verifier, err := hid.VerifierFromHostID(peerHostID)
			if err != nil {
				return filter.Abort, hiperr.New(hiperr.KindAuthFailed, "statemachine.chainR1", err)
			}
			if err := verifySignature(ctx.Message, wire.PHIPSignature2, verifier); err != nil {
				return filter.Abort, err
			}
			ha.PeerHostID = append([]byte{}, hostIDTLV.Contents...)

			local, ok := ctx.HIDs.Lookup(ha.LocalHIT, 0)
			if !ok {
				return filter.Abort, hiperr.New(hiperr.KindResourceExhausted, "statemachine.chainR1", fmt.Errorf("no local identity for initiator HIT"))
			}

			group, kp, secret, err := selectAndAgreeDH(ctx.Message, ctx.DHPreference)
			if err != nil {
				return filter.Abort, err
			}
			ha.DHGroup = uint8(group)
			ha.DHSecret = secret
			ha.PeerPubKey = nil

			transformTLV, _ := ctx.Message.Find(wire.PHIPTransform)
			offered, err := wire.DecodeTransformList(transformTLV.Contents)
			if err != nil {
				return filter.Abort, err
			}
			chosenTransform, ok := selectTransform(offered, ctx.HIPTransforms)
			if !ok {
				return filter.Abort, hiperr.New(hiperr.KindUnsupportedCritical, "statemachine.chainR1", fmt.Errorf("no mutually supported HIP transform"))
			}
			ha.HIPTransform = chosenTransform
			ha.ESPTransform = chosenTransform

			puzzleTLV, _ := ctx.Message.Find(wire.PPuzzle)
			i, k, err := decodePuzzle(puzzleTLV.Contents)
			if err != nil {
				return filter.Abort, err
			}
			solveStart := time.Now()
			j := puzzle.Solve(i, ha.LocalHIT, ha.PeerHIT, k)
			metrics.PuzzleSolveSeconds.Observe(time.Since(solveStart).Seconds())
			metrics.PuzzlesSolvedTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()
			ha.PendingPuzzle = hadb.Puzzle{I: i, J: j, K: k}

			keymat := hipcrypto.NewKeymat(secret, ha.LocalHIT, ha.PeerHIT, uint64ToBytes(i), uint64ToBytes(j))
			keys := hipcrypto.DeriveAll(keymat, keyLengthsFor(hipcrypto.TransformID(chosenTransform)))
			assignKeys(ha, keys, ha.LocalHIT.Greater(ha.PeerHIT))
			metrics.KeyDerivationsTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()

			spi, err := randSPI()
			if err != nil {
				return filter.Abort, err
			}
			ha.SPIInbound = spi

			reply, err := buildI2(ha, local, i, j, group, kp, chosenTransform, ctx.ESPConfig)
			if err != nil {
				return filter.Abort, err
			}
			ctx.Reply = reply
			ha.State = hadb.StateI2Sent
			return filter.Continue, nil
		}},
	})
}

// selectAndAgreeDH picks the first group, in the order the responder
// offered them in r1, that is also in our preference list (our own
// ordering is not consulted), and computes the shared secret against
// a freshly generated ephemeral keypair in that group.
func selectAndAgreeDH(r1 *wire.Message, ourPreference []hipcrypto.GroupID) (hipcrypto.GroupID, hipcrypto.KeyAgreement, []byte, error) {
	var peerOrder []hipcrypto.GroupID
	peerPublic := map[hipcrypto.GroupID][]byte{}
	for _, tlv := range r1.FindAll(wire.PDiffieHellman) {
		group, pub, err := wire.DecodeDH(tlv.Contents)
		if err != nil {
			return 0, nil, nil, err
		}
		gid := hipcrypto.GroupID(group)
		peerOrder = append(peerOrder, gid)
		peerPublic[gid] = pub
	}
	supported := make(map[hipcrypto.GroupID]bool, len(ourPreference))
	for _, g := range ourPreference {
		supported[g] = true
	}
	chosen, ok := hipcrypto.SelectGroup(peerOrder, supported)
	if !ok {
		return 0, nil, nil, hiperr.New(hiperr.KindUnsupportedCritical, "statemachine.selectAndAgreeDH", fmt.Errorf("no mutually supported DH group"))
	}
	kp, err := hipcrypto.GenerateKeyAgreement(chosen)
	if err != nil {
		return 0, nil, nil, err
	}
	secret, err := kp.SharedSecret(peerPublic[chosen])
	if err != nil {
		return 0, nil, nil, err
	}
	return chosen, kp, secret, nil
}

// buildI2 assembles ESP_INFO, SOLUTION, the chosen DIFFIE_HELLMAN and
// HIP_TRANSFORM, the initiator's ENCRYPTED identity, SIGNATURE and
// HMAC, and (when negotiated) an ESP-protection transform/anchor offer.
func buildI2(ha *hadb.HA, local *hid.Entry, i, j uint64, group hipcrypto.GroupID, kp hipcrypto.KeyAgreement, transform uint16, espCfg espprot.Config) (*wire.Message, error) {
	hdr := wire.Header{Type: wire.TypeI2, Version: wire.Version2, SenderHIT: ha.LocalHIT, ReceiverHIT: ha.PeerHIT}
	msg := &wire.Message{Header: hdr}

	msg.Add(wire.PESPInfo, wire.EncodeESPInfo(wire.ESPInfo{NewSPI: ha.SPIInbound}))

	sol := make([]byte, 20)
	for n := 0; n < 8; n++ {
		sol[4+n] = byte(i >> uint(56-8*n))
		sol[12+n] = byte(j >> uint(56-8*n))
	}
	msg.Add(wire.PSolution, sol)

	msg.Add(wire.PDiffieHellman, wire.EncodeDH(uint8(group), kp.PublicBytes()))
	msg.Add(wire.PHIPTransform, wire.EncodeTransformList([]uint16{transform}))

	plaintext := hipcrypto.Pad(hipcrypto.TransformID(transform), local.Canonical)
	ivct, err := hipcrypto.EncryptCBC(hipcrypto.TransformID(transform), ha.Keys.HIPEncOut, plaintext)
	if err != nil {
		return nil, err
	}
	msg.Add(wire.PEncrypted, wire.EncodeEncrypted(ivct))

	if err := signParam(msg, wire.PHIPSignature, local); err != nil {
		return nil, err
	}

	msg.Add(wire.PHMAC, nil)
	anchor, err := generateAnchor(espCfg)
	if err != nil {
		return nil, err
	}
	if anchor != nil {
		msg.Add(wire.PESPProtTransforms, wire.EncodeESPProtTransforms([]uint8{uint8(espCfg.Transform)}))
		msg.Add(wire.PESPProtAnchor, wire.EncodeESPProtAnchor(uint8(espCfg.Transform), anchor))
		ha.ESPProt.Transform = uint8(espCfg.Transform)
	}

	if err := hmacParam(msg, wire.PHMAC, ha.Keys.HIPAuthOut); err != nil {
		return nil, err
	}
	return msg, nil
}

// hmacParam locates an already-appended, empty-content HMAC/HMAC2 TLV
// of the given type, computes HMAC-SHA1-96 over the message as it
// stands (the TLV still empty, per wire.BuildPseudoForHMAC's
// truncate-to-empty convention), and fills the real value in.
func hmacParam(msg *wire.Message, paramType uint16, key []byte) error {
	idx := -1
	for i, p := range msg.Params {
		if p.Type == paramType {
			idx = i
		}
	}
	if idx < 0 {
		return hiperr.New(hiperr.KindFatal, "statemachine.hmacParam", fmt.Errorf("parameter %d not present", paramType))
	}
	preimage, err := wire.Serialize(msg)
	if err != nil {
		return hiperr.New(hiperr.KindFatal, "statemachine.hmacParam", err)
	}
	msg.Params[idx].Contents = hipcrypto.Truncate12(hipcrypto.HMACSHA1(key, preimage))
	return nil
}

// chainI2 handles an incoming I2: verify the puzzle solution and
// initiator's identity, complete the DH agreement, derive keys, install
// SAs, and reply with R2. The `collision` parameter selects the
// I2_SENT variant, which applies the simultaneous base-exchange
// collision rule (drop if the peer's HIT is not greater than ours).
func chainI2(collision bool) *filter.Chain {
	steps := []filter.Step{
		{Priority: PriorityCheck, Name: "check-i2-required-params", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			for _, pt := range []uint16{wire.PSolution, wire.PESPInfo, wire.PDiffieHellman, wire.PHIPTransform, wire.PEncrypted, wire.PHIPSignature, wire.PHMAC} {
				if _, ok := ctx.Message.Find(pt); !ok {
					return filter.Abort, hiperr.New(hiperr.KindMalformed, "statemachine.chainI2", fmt.Errorf("I2 missing parameter %d", pt))
				}
			}
			return filter.Continue, nil
		}},
	}
	if collision {
		steps = append(steps, filter.Step{Priority: PriorityCheck + 1, Name: "check-collision-rule", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			if !ctx.Message.Header.SenderHIT.Greater(ctx.Message.Header.ReceiverHIT) {
				return filter.Cancel, nil
			}
			return filter.Continue, nil
		}})
	}
	steps = append(steps, filter.Step{Priority: PriorityHandle, Name: "handle-verify-and-install", Run: func(v any) (filter.Verdict, error) {
		ctx := ctxOf(v)
		ha := ctx.HA

		solTLV, _ := ctx.Message.Find(wire.PSolution)
		if len(solTLV.Contents) < 20 {
			return filter.Abort, hiperr.New(hiperr.KindMalformed, "statemachine.chainI2", fmt.Errorf("SOLUTION too short"))
		}
		var i, j uint64
		for n := 0; n < 8; n++ {
			i = (i << 8) | uint64(solTLV.Contents[4+n])
			j = (j << 8) | uint64(solTLV.Contents[12+n])
		}
		if err := ctx.Puzzles.Verify(ctx.Message.Header.ReceiverHIT, ctx.Message.Header.SenderHIT, i, j); err != nil {
			metrics.PuzzleVerifyTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
			return filter.Abort, err
		}
		metrics.PuzzleVerifyTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()

		local, ok := ctx.HIDs.Lookup(ha.LocalHIT, 0)
		if !ok {
			return filter.Abort, hiperr.New(hiperr.KindResourceExhausted, "statemachine.chainI2", fmt.Errorf("no local identity for responder HIT"))
		}

		dhTLV, _ := ctx.Message.Find(wire.PDiffieHellman)
		group, peerPub, err := wire.DecodeDH(dhTLV.Contents)
		if err != nil {
			return filter.Abort, err
		}
		dhKeys, ok := ctx.Puzzles.DHKeys(ha.LocalHIT)
		if !ok {
			return filter.Abort, hiperr.New(hiperr.KindFatal, "statemachine.chainI2", fmt.Errorf("no cached R1 DH keypairs for this HIT"))
		}
		kp, ok := dhKeys[hipcrypto.GroupID(group)]
		if !ok {
			return filter.Abort, hiperr.New(hiperr.KindMalformed, "statemachine.chainI2", fmt.Errorf("I2 chose group %d not offered in R1", group))
		}

		// The responder cannot observe the initiator's full supported-group
		// set from I2 alone; treating our own offered preference as the
		// peer-supported set is conservative (it only ever accepts our
		// top-preference group as non-downgrade), but it reliably catches
		// the canonical attack of an on-path stripping R1's strong groups.
		peerSupported := make(map[hipcrypto.GroupID]bool, len(ctx.DHPreference))
		for _, g := range ctx.DHPreference {
			peerSupported[g] = true
		}
		if err := hipcrypto.CheckNoDowngrade(ctx.DHPreference, peerSupported, hipcrypto.GroupID(group)); err != nil {
			return filter.Abort, err
		}

		secret, err := kp.SharedSecret(peerPub)
		if err != nil {
			return filter.Abort, err
		}
		ha.DHGroup = group
		ha.DHSecret = secret
		ha.PeerPubKey = append([]byte{}, peerPub...)

		transformTLV, _ := ctx.Message.Find(wire.PHIPTransform)
		chosenList, err := wire.DecodeTransformList(transformTLV.Contents)
		if err != nil {
			return filter.Abort, err
		}
		if len(chosenList) != 1 {
			return filter.Abort, hiperr.New(hiperr.KindMalformed, "statemachine.chainI2", fmt.Errorf("I2 HIP_TRANSFORM must name exactly one transform"))
		}
		chosenTransform := chosenList[0]
		supportedHere := false
		for _, t := range ctx.HIPTransforms {
			if t == chosenTransform {
				supportedHere = true
			}
		}
		if !supportedHere {
			return filter.Abort, hiperr.New(hiperr.KindUnsupportedCritical, "statemachine.chainI2", fmt.Errorf("I2 chose unsupported transform %d", chosenTransform))
		}
		ha.HIPTransform = chosenTransform
		ha.ESPTransform = chosenTransform

		keymat := hipcrypto.NewKeymat(secret, ctx.Message.Header.SenderHIT, ctx.Message.Header.ReceiverHIT, uint64ToBytes(i), uint64ToBytes(j))
		keys := hipcrypto.DeriveAll(keymat, keyLengthsFor(hipcrypto.TransformID(chosenTransform)))
		assignKeys(ha, keys, ha.LocalHIT.Greater(ha.PeerHIT))
		metrics.KeyDerivationsTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()

		if err := checkHMAC(ctx.Message, wire.PHMAC, ha.Keys.HIPAuthIn); err != nil {
			return filter.Abort, err
		}

		encTLV, _ := ctx.Message.Find(wire.PEncrypted)
		ivct, err := wire.DecodeEncrypted(encTLV.Contents)
		if err != nil {
			return filter.Abort, err
		}
		padded, err := hipcrypto.DecryptCBC(hipcrypto.TransformID(chosenTransform), ha.Keys.HIPEncIn, ivct)
		if err != nil {
			return filter.Abort, err
		}
		canonicalHostID, err := hipcrypto.Unpad(padded)
		if err != nil {
			return filter.Abort, hiperr.New(hiperr.KindAuthFailed, "statemachine.chainI2", err)
		}
		peerHostID, err := wire.DecodeHostID(canonicalHostID)
		if err != nil {
			return filter.Abort, err
		}
		verifier, err := hid.VerifierFromHostID(peerHostID)
		if err != nil {
			return filter.Abort, hiperr.New(hiperr.KindAuthFailed, "statemachine.chainI2", err)
		}
		ha.PeerHostID = canonicalHostID

		if err := verifySignature(ctx.Message, wire.PHIPSignature, verifier); err != nil {
			return filter.Abort, err
		}

		espInfoTLV, _ := ctx.Message.Find(wire.PESPInfo)
		espInfo, err := wire.DecodeESPInfo(espInfoTLV.Contents)
		if err != nil {
			return filter.Abort, err
		}
		peerSPI := espInfo.NewSPI

		mySPI, err := randSPI()
		if err != nil {
			return filter.Abort, err
		}
		ha.SPIInbound = mySPI
		ha.SPIOutbound = peerSPI
		ha.PeerIP = net.ParseIP(ctx.SrcIP)
		ha.PeerPort = ctx.SrcPort
		ha.LocalIP = ctx.LocalIP

		var peerAnchor []byte
		if at, ok := ctx.Message.Find(wire.PESPProtAnchor); ok {
			_, anchor, err := wire.DecodeESPProtAnchor(at.Contents)
			if err != nil {
				return filter.Abort, err
			}
			peerAnchor = anchor
		}

		if err := installSAs(ctx.SAs, ha, hipcrypto.TransformID(chosenTransform)); err != nil {
			return filter.Abort, err
		}

		if ctx.Conntrack != nil {
			ctx.Conntrack.OnI2(ctx.Message.Header.SenderHIT, ctx.Message.Header.ReceiverHIT, peerSPI, peerAnchor)
		}

		reply, err := buildR2(ha, local, ctx.ESPConfig)
		if err != nil {
			return filter.Abort, err
		}
		ctx.Reply = reply
		ha.State = hadb.StateR2Sent
		return filter.Continue, nil
	}})
	return filter.NewChain(steps)
}

// checkHMAC reconstructs the truncate-to-empty pseudo-message and
// compares the recomputed MAC against the one carried on the wire.
func checkHMAC(msg *wire.Message, paramType uint16, key []byte) error {
	tlv, ok := msg.Find(paramType)
	if !ok {
		return hiperr.New(hiperr.KindMalformed, "statemachine.checkHMAC", fmt.Errorf("missing parameter %d", paramType))
	}
	pseudo := wire.BuildPseudoForHMAC(msg)
	preimage, err := wire.Serialize(pseudo)
	if err != nil {
		return hiperr.New(hiperr.KindFatal, "statemachine.checkHMAC", err)
	}
	want := hipcrypto.Truncate12(hipcrypto.HMACSHA1(key, preimage))
	if !constantTimeEqual(tlv.Contents, want) {
		return hiperr.New(hiperr.KindAuthFailed, "statemachine.checkHMAC", fmt.Errorf("HMAC mismatch"))
	}
	return nil
}

// checkHMAC2 is checkHMAC's HMAC2 counterpart: the pseudo-message also
// splices in the peer's HOST_ID (not actually carried by R2) at its
// ascending-order slot, matching how the responder built it.
func checkHMAC2(msg *wire.Message, peerHostID []byte, key []byte) error {
	tlv, ok := msg.Find(wire.PHMAC2)
	if !ok {
		return hiperr.New(hiperr.KindMalformed, "statemachine.checkHMAC2", fmt.Errorf("missing HMAC2"))
	}
	pseudo := wire.BuildPseudoForHMAC2(msg, &wire.TLV{Type: wire.PHostID, Contents: peerHostID})
	preimage, err := wire.Serialize(pseudo)
	if err != nil {
		return hiperr.New(hiperr.KindFatal, "statemachine.checkHMAC2", err)
	}
	want := hipcrypto.Truncate12(hipcrypto.HMACSHA1(key, preimage))
	if !constantTimeEqual(tlv.Contents, want) {
		return hiperr.New(hiperr.KindAuthFailed, "statemachine.checkHMAC2", fmt.Errorf("HMAC2 mismatch"))
	}
	return nil
}

// installSAs installs the inbound and outbound BEET-mode SAs an
// established association needs, in both directions, from the keys and
// SPIs already resolved onto ha.
func installSAs(mgr *sa.Manager, ha *hadb.HA, transform hipcrypto.TransformID) error {
	inbound := &sa.Entry{
		Direction:   sa.DirInbound,
		InnerSrcHIT: ha.PeerHIT,
		InnerDstHIT: ha.LocalHIT,
		OuterSrc:    ha.PeerIP,
		OuterDst:    ha.LocalIP,
		SPI:         ha.SPIInbound,
		Transform:   transform,
		EncKey:      ha.Keys.ESPEncIn,
		AuthKey:     ha.Keys.ESPAuthIn,
		Encap:       sa.EncapUDP,
		SrcPort:     ha.PeerPort,
		DstPort:     ha.LocalPort,
		ESPProt:     sa.ESPProtContext{Transform: ha.ESPProt.Transform, Active: ha.ESPProt.Transform != uint8(espprot.TransformUnused)},
	}
	outbound := &sa.Entry{
		Direction:   sa.DirOutbound,
		InnerSrcHIT: ha.LocalHIT,
		InnerDstHIT: ha.PeerHIT,
		OuterSrc:    ha.LocalIP,
		OuterDst:    ha.PeerIP,
		SPI:         ha.SPIOutbound,
		Transform:   transform,
		EncKey:      ha.Keys.ESPEncOut,
		AuthKey:     ha.Keys.ESPAuthOut,
		Encap:       sa.EncapUDP,
		SrcPort:     ha.LocalPort,
		DstPort:     ha.PeerPort,
		ESPProt:     sa.ESPProtContext{Transform: ha.ESPProt.Transform, Active: ha.ESPProt.Transform != uint8(espprot.TransformUnused)},
	}
	if err := mgr.AddSA(inbound); err != nil {
		metrics.SAInstallsTotal.WithLabelValues("inbound", metrics.OutcomeRejected).Inc()
		return err
	}
	metrics.SAInstallsTotal.WithLabelValues("inbound", metrics.OutcomeAccepted).Inc()
	if err := mgr.AddSA(outbound); err != nil {
		metrics.SAInstallsTotal.WithLabelValues("outbound", metrics.OutcomeRejected).Inc()
		return err
	}
	metrics.SAInstallsTotal.WithLabelValues("outbound", metrics.OutcomeAccepted).Inc()
	return nil
}

// chainI2Idempotent handles a retransmitted I2 once the HA has already
// reached R2_SENT: resend the same R2 instead of re-deriving keys.
func chainI2Idempotent() *filter.Chain {
	return filter.NewChain([]filter.Step{
		{Priority: PriorityHandle, Name: "handle-resend-r2", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			for _, slot := range ctx.HA.Retransmit {
				if slot.InUse && slot.PacketType == wire.TypeR2 {
					msg, err := wire.Parse(slot.Packet)
					if err == nil {
						ctx.Reply = msg
					}
					break
				}
			}
			return filter.Continue, nil
		}},
	})
}

// buildR2 assembles ESP_INFO, a SIGNATURE over everything before it, an
// HMAC2 covering the responder's (unsent) HOST_ID, and, when
// negotiated, an ESP-protection transform/anchor offer.
func buildR2(ha *hadb.HA, local *hid.Entry, espCfg espprot.Config) (*wire.Message, error) {
	hdr := wire.Header{Type: wire.TypeR2, Version: wire.Version2, SenderHIT: ha.LocalHIT, ReceiverHIT: ha.PeerHIT}
	msg := &wire.Message{Header: hdr}

	msg.Add(wire.PESPInfo, wire.EncodeESPInfo(wire.ESPInfo{NewSPI: ha.SPIInbound}))

	if err := signParam(msg, wire.PHIPSignature, local); err != nil {
		return nil, err
	}

	msg.Add(wire.PHMAC2, nil)

	var responderAnchor []byte
	if ha.ESPProt.Transform != uint8(espprot.TransformUnused) {
		anchor, err := generateAnchor(espCfg)
		if err != nil {
			return nil, err
		}
		responderAnchor = anchor
	}
	if responderAnchor != nil {
		msg.Add(wire.PESPProtTransforms, wire.EncodeESPProtTransforms([]uint8{ha.ESPProt.Transform}))
		msg.Add(wire.PESPProtAnchor, wire.EncodeESPProtAnchor(ha.ESPProt.Transform, responderAnchor))
	}

	idx := -1
	for i, p := range msg.Params {
		if p.Type == wire.PHMAC2 {
			idx = i
		}
	}
	pseudo := wire.BuildPseudoForHMAC2(msg, &wire.TLV{Type: wire.PHostID, Contents: local.Canonical})
	preimage, err := wire.Serialize(pseudo)
	if err != nil {
		return nil, hiperr.New(hiperr.KindFatal, "statemachine.buildR2", err)
	}
	msg.Params[idx].Contents = hipcrypto.Truncate12(hipcrypto.HMACSHA1(ha.Keys.HIPAuthOut, preimage))
	return msg, nil
}

// chainR2 verifies the responder's signature and HMAC2, completes SA
// installation on the initiator side, and reaches ESTABLISHED.
func chainR2() *filter.Chain {
	return filter.NewChain([]filter.Step{
		{Priority: PriorityCheck, Name: "check-r2-required-params", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			for _, pt := range []uint16{wire.PESPInfo, wire.PHIPSignature, wire.PHMAC2} {
				if _, ok := ctx.Message.Find(pt); !ok {
					return filter.Abort, hiperr.New(hiperr.KindMalformed, "statemachine.chainR2", fmt.Errorf("R2 missing parameter %d", pt))
				}
			}
			return filter.Continue, nil
		}},
		{Priority: PriorityHandle, Name: "handle-verify-and-establish", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			ha := ctx.HA

			if len(ha.PeerHostID) == 0 {
				return filter.Abort, hiperr.New(hiperr.KindFatal, "statemachine.chainR2", fmt.Errorf("no peer HOST_ID learned from R1"))
			}
			peerHostID, err := wire.DecodeHostID(ha.PeerHostID)
			if err != nil {
				return filter.Abort, err
			}
			verifier, err := hid.VerifierFromHostID(peerHostID)
			if err != nil {
				return filter.Abort, hiperr.New(hiperr.KindAuthFailed, "statemachine.chainR2", err)
			}
			if err := verifySignature(ctx.Message, wire.PHIPSignature, verifier); err != nil {
				return filter.Abort, err
			}
			if err := checkHMAC2(ctx.Message, ha.PeerHostID, ha.Keys.HIPAuthIn); err != nil {
				return filter.Abort, err
			}

			espInfoTLV, _ := ctx.Message.Find(wire.PESPInfo)
			espInfo, err := wire.DecodeESPInfo(espInfoTLV.Contents)
			if err != nil {
				return filter.Abort, err
			}
			ha.SPIOutbound = espInfo.NewSPI

			var responderAnchor []byte
			if at, ok := ctx.Message.Find(wire.PESPProtAnchor); ok {
				transform, anchor, err := wire.DecodeESPProtAnchor(at.Contents)
				if err != nil {
					return filter.Abort, err
				}
				ha.ESPProt.Transform = transform
				responderAnchor = anchor
			}

			if err := installSAs(ctx.SAs, ha, hipcrypto.TransformID(ha.HIPTransform)); err != nil {
				return filter.Abort, err
			}

			if ctx.Conntrack != nil {
				ctx.Conntrack.OnR2(ctx.Message.Header.SenderHIT, ctx.Message.Header.ReceiverHIT, ha.SPIOutbound, responderAnchor)
			}

			ha.State = hadb.StateEstablished
			return filter.Continue, nil
		}},
	})
}

// chainUpdate classifies and handles the UPDATE family per the
// (SEQ,ACK,ESP_INFO) triple.
func chainUpdate() *filter.Chain {
	return filter.NewChain([]filter.Step{
		{Priority: PriorityHandle, Name: "handle-update", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			kind := ClassifyUpdate(ctx.Message)
			switch kind {
			case UpdateFirst:
				ctx.Reply = buildUpdateAck(ctx.HA)
			case UpdateSecond, UpdateThird:
				// No reply is sent and no ack/rekey bookkeeping is
				// done for these legs.
			}
			return filter.Continue, nil
		}},
	})
}

func buildUpdateAck(ha *hadb.HA) *wire.Message {
	hdr := wire.Header{Type: wire.TypeUpdate, Version: wire.Version2, SenderHIT: ha.LocalHIT, ReceiverHIT: ha.PeerHIT}
	return &wire.Message{Header: hdr}
}

func chainClose() *filter.Chain {
	return filter.NewChain([]filter.Step{
		{Priority: PriorityHandle, Name: "handle-close", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			ctx.HA.State = hadb.StateClosing
			ctx.Reply = &wire.Message{Header: wire.Header{Type: wire.TypeCloseAck, Version: wire.Version2, SenderHIT: ctx.HA.LocalHIT, ReceiverHIT: ctx.HA.PeerHIT}}
			return filter.Continue, nil
		}},
	})
}

func chainCloseAck() *filter.Chain {
	return filter.NewChain([]filter.Step{
		{Priority: PriorityHandle, Name: "handle-close-ack", Run: func(v any) (filter.Verdict, error) {
			ctx := ctxOf(v)
			ctx.HA.State = hadb.StateClosed
			return filter.Continue, nil
		}},
	})
}
