// Package statemachine implements the control-plane handler chains: for
// every (packet-type, Host Association state) pair, an ordered chain of
// check/handle/send steps (via internal/filter) drives the HA through
// the transition table, derives keys, and triggers SA installation.
package statemachine

import (
	"fmt"
	"net"
	"time"

	"github.com/hiplane/hipd/internal/conntrack"
	"github.com/hiplane/hipd/internal/espprot"
	"github.com/hiplane/hipd/internal/eventbus"
	"github.com/hiplane/hipd/internal/filter"
	"github.com/hiplane/hipd/internal/hadb"
	"github.com/hiplane/hipd/internal/hid"
	"github.com/hiplane/hipd/internal/hiperr"
	"github.com/hiplane/hipd/internal/hiplog"
	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/metrics"
	"github.com/hiplane/hipd/internal/puzzle"
	"github.com/hiplane/hipd/internal/sa"
	"github.com/hiplane/hipd/internal/wire"
)

// Priority bands: core check/handle/send steps occupy the centers of
// these bands; the gaps around them are reserved for middlebox and
// update extensions to interleave their own steps without renumbering
// the core chain.
const (
	PriorityCheck  = 20000
	PriorityHandle = 30000
	PrioritySend   = 40000
)

// Outbound is the external-collaborator hook the machine calls to
// actually transmit a serialized HIP packet; the daemon wires this to
// its UDP transport (internal/netio).
type Outbound interface {
	Send(msg *wire.Message, dstIP string, dstPort uint16) error
}

// Context is threaded through every Step in a chain for one packet.
type Context struct {
	HA      *hadb.HA
	Message *wire.Message
	SrcIP   string
	SrcPort uint16

	HADB    *hadb.DB
	HIDs    *hid.Store
	Puzzles *puzzle.Cache
	SAs     *sa.Manager
	Out     Outbound

	// DHPreference is this node's DH/ECDH group preference, most
	// preferred first: offered in R1, and the basis both for selecting
	// a group as initiator and for the responder's downgrade check.
	DHPreference []hipcrypto.GroupID
	// HIPTransforms is this node's symmetric-transform preference,
	// shared by the HIP control channel and the ESP SA it installs.
	HIPTransforms []uint16
	// LocalIP is the address SAs installed from this exchange bind as
	// their local endpoint.
	LocalIP net.IP
	// ESPConfig is the negotiated ESP-protection policy; TransformUnused
	// disables the extension entirely.
	ESPConfig espprot.Config
	// Conntrack, when non-nil, is updated at each base-exchange step so
	// later ESP traffic can be correlated back to this handshake.
	Conntrack *conntrack.Tracker

	// Reply, if non-nil after the chain completes, is serialized and
	// sent by the send phase. Handle-phase steps set it; send-phase
	// steps consume it.
	Reply *wire.Message

	Now time.Time
}

// Machine owns the registry of handler chains and the HADB/HID/puzzle
// cache/SA manager it dispatches against.
type Machine struct {
	registry *filter.Registry
	hadb     *hadb.DB
	hids     *hid.Store
	puzzles  *puzzle.Cache
	sas      *sa.Manager
	out      Outbound
	events   eventbus.EventBus

	dhPreference  []hipcrypto.GroupID
	hipTransforms []uint16
	localIP       net.IP
	espConfig     espprot.Config
	conntrack     *conntrack.Tracker
}

// SetEventBus wires the admin event stream's backing bus so that HA
// state transitions (establishment, graceful close) are published for
// long-lived CLI/UI watchers, not just exposed via request/reply
// introspection. A nil bus (the default) disables publishing.
func (m *Machine) SetEventBus(bus eventbus.EventBus) {
	m.events = bus
}

// SetDHPreference overrides the default group preference offered in R1
// and used to validate the initiator's chosen group.
func (m *Machine) SetDHPreference(groups []hipcrypto.GroupID) {
	if len(groups) > 0 {
		m.dhPreference = groups
	}
}

// SetHIPTransforms overrides the default transform preference offered
// in R1 and negotiated in I2.
func (m *Machine) SetHIPTransforms(transforms []uint16) {
	if len(transforms) > 0 {
		m.hipTransforms = transforms
	}
}

// SetLocalIP records the address newly installed SAs bind as their
// local endpoint.
func (m *Machine) SetLocalIP(ip net.IP) {
	m.localIP = ip
}

// SetESPProtConfig wires the negotiated ESP-protection policy into the
// base-exchange handlers, so I2/R2 advertise and install it.
func (m *Machine) SetESPProtConfig(cfg espprot.Config) {
	m.espConfig = cfg
}

// SetConntrack wires the connection tracker the base-exchange handlers
// update as the handshake progresses.
func (m *Machine) SetConntrack(t *conntrack.Tracker) {
	m.conntrack = t
}

func (m *Machine) publishTransition(topic string, ha *hadb.HA) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(&eventbus.Event{
		Topic: topic,
		Key:   ha.PeerHIT.String(),
		Payload: map[string]interface{}{
			"local_hit": ha.LocalHIT.String(),
			"peer_hit":  ha.PeerHIT.String(),
			"state":     ha.State.String(),
		},
	}); err != nil {
		hiplog.GetLogger().WithError(err).Warnf("failed to publish %s event", topic)
	}
}

// New builds a Machine with the core transition chains registered.
func New(hadbDB *hadb.DB, hids *hid.Store, puzzles *puzzle.Cache, sas *sa.Manager, out Outbound) *Machine {
	m := &Machine{
		registry: filter.NewRegistry(),
		hadb:     hadbDB,
		hids:     hids,
		puzzles:  puzzles,
		sas:      sas,
		out:      out,
		dhPreference: []hipcrypto.GroupID{
			hipcrypto.GroupNISTP384, hipcrypto.GroupNISTP256,
			hipcrypto.GroupModp3072, hipcrypto.GroupModp1536,
		},
		hipTransforms: []uint16{
			uint16(hipcrypto.TransformAESCBC), uint16(hipcrypto.Transform3DESCBC), uint16(hipcrypto.TransformNULL),
		},
		espConfig: espprot.DefaultConfig(espprot.TransformUnused, 0),
	}
	registerCoreChains(m.registry)
	return m
}

// Dispatch routes an incoming packet to the chain registered for
// (msg.Header.Type, ha.State), running it to completion. If no HA
// exists yet for this HIT pair (first I1), the UNASSOC chain is used
// with a freshly allocated, uninserted HA.
func (m *Machine) Dispatch(msg *wire.Message, srcIP string, srcPort uint16) error {
	local := msg.Header.ReceiverHIT
	peer := msg.Header.SenderHIT

	ha, existed := m.hadb.FindByHITs(local, peer)
	if !existed {
		ha = hadb.Create(local, peer)
	}

	chain, ok := m.registry.Lookup(filter.Key{PacketType: int(msg.Header.Type), State: int(ha.State)})
	if !ok {
		return hiperr.New(hiperr.KindUnsupportedCritical, "statemachine.Dispatch",
			fmt.Errorf("no handler chain for packet type %s in state %s", msg.Header.Type, ha.State))
	}

	log := hiplog.GetLogger().WithFields(map[string]interface{}{
		"local_hit": local.String(),
		"peer_hit":  peer.String(),
		"packet":    msg.Header.Type.String(),
		"state":     ha.State.String(),
	})
	log.Debug("dispatching packet")

	ctx := &Context{
		HA: ha, Message: msg, SrcIP: srcIP, SrcPort: srcPort,
		HADB: m.hadb, HIDs: m.hids, Puzzles: m.puzzles, SAs: m.sas, Out: m.out,
		DHPreference: m.dhPreference, HIPTransforms: m.hipTransforms,
		LocalIP: m.localIP, ESPConfig: m.espConfig, Conntrack: m.conntrack,
		Now: time.Now(),
	}

	prevState := ha.State
	verdict, stepName, err := chain.Run(ctx)
	switch verdict {
	case filter.Abort:
		log.WithError(err).Warnf("step %q aborted", stepName)
		return hiperr.New(hiperr.KindOf(err), "statemachine.Dispatch", fmt.Errorf("step %q aborted: %w", stepName, err))
	case filter.Cancel:
		log.Debugf("step %q cancelled dispatch", stepName)
		return nil
	}

	if !existed {
		if insertErr := m.hadb.Insert(ha); insertErr != nil {
			return hiperr.New(hiperr.KindFatal, "statemachine.Dispatch", insertErr)
		}
	}

	log.WithField("new_state", ha.State.String()).Debug("dispatch complete")

	if ha.State != prevState {
		metrics.HATransitionsTotal.WithLabelValues(ha.State.String()).Inc()
		switch ha.State {
		case hadb.StateEstablished:
			m.publishTransition("ha.established", ha)
		case hadb.StateClosed:
			m.publishTransition("ha.closed", ha)
		}
	}

	if ctx.Reply != nil && m.out != nil {
		if err := m.out.Send(ctx.Reply, ctx.SrcIP, ctx.SrcPort); err != nil {
			return hiperr.New(hiperr.KindTransient, "statemachine.Dispatch", err)
		}
		recordRetransmit(ha, ctx.Reply)
	}
	return nil
}

// TriggerBEX drives the UNASSOC→I1_SENT transition for an outgoing
// connection request (the "trigger-bex" event of the transition
// table), used when a local application or ACQUIRE event asks the
// daemon to establish a new association.
func (m *Machine) TriggerBEX(local, peer wire.HIT, peerIP string, peerPort uint16) (*hadb.HA, error) {
	if _, exists := m.hadb.FindByHITs(local, peer); exists {
		return nil, hiperr.New(hiperr.KindFatal, "statemachine.TriggerBEX", fmt.Errorf("HA for (%s,%s) already exists", local, peer))
	}
	ha := hadb.Create(local, peer)
	ha.PeerIP = net.ParseIP(peerIP)
	ha.PeerPort = peerPort
	ha.LocalIP = m.localIP
	i1, err := buildI1(ha)
	if err != nil {
		return nil, err
	}
	ha.State = hadb.StateI1Sent
	if err := m.hadb.Insert(ha); err != nil {
		return nil, hiperr.New(hiperr.KindFatal, "statemachine.TriggerBEX", err)
	}
	if m.conntrack != nil {
		m.conntrack.OnI1(local, peer)
	}
	hiplog.GetLogger().WithFields(map[string]interface{}{
		"local_hit": local.String(), "peer_hit": peer.String(), "peer_ip": peerIP,
	}).Info("triggering base exchange")
	if m.out != nil {
		if err := m.out.Send(i1, peerIP, peerPort); err != nil {
			return ha, hiperr.New(hiperr.KindTransient, "statemachine.TriggerBEX", err)
		}
		recordRetransmit(ha, i1)
	}
	return ha, nil
}

// TriggerClose starts a graceful teardown of an established association
// (the admin-initiated "close" event), moving the HA to CLOSING and
// sending CLOSE to the peer.
func (m *Machine) TriggerClose(local, peer wire.HIT) (*hadb.HA, error) {
	ha, ok := m.hadb.FindByHITs(local, peer)
	if !ok {
		return nil, hiperr.New(hiperr.KindFatal, "statemachine.TriggerClose", fmt.Errorf("no HA for (%s,%s)", local, peer))
	}
	msg := &wire.Message{Header: wire.Header{
		Type:        wire.TypeClose,
		Version:     wire.Version2,
		SenderHIT:   ha.LocalHIT,
		ReceiverHIT: ha.PeerHIT,
	}}
	ha.State = hadb.StateClosing
	hiplog.GetLogger().WithFields(map[string]interface{}{
		"local_hit": local.String(), "peer_hit": peer.String(),
	}).Info("triggering graceful close")
	if m.out != nil {
		if err := m.out.Send(msg, ha.PeerIP.String(), ha.PeerPort); err != nil {
			return ha, hiperr.New(hiperr.KindTransient, "statemachine.TriggerClose", err)
		}
		recordRetransmit(ha, msg)
	}
	return ha, nil
}

func buildI1(ha *hadb.HA) (*wire.Message, error) {
	hdr := wire.Header{
		Type:        wire.TypeI1,
		Version:     wire.Version2,
		SenderHIT:   ha.LocalHIT,
		ReceiverHIT: ha.PeerHIT,
	}
	return &wire.Message{Header: hdr}, nil
}
