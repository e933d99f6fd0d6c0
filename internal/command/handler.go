// Package command implements control plane command handling: the
// JSON-RPC methods exposed over the admin Unix Domain Socket for
// triggering base exchanges, tearing down associations, managing local
// Host Identities, and introspecting daemon state.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hiplane/hipd/internal/hadb"
	"github.com/hiplane/hipd/internal/hid"
	"github.com/hiplane/hipd/internal/puzzle"
	"github.com/hiplane/hipd/internal/statemachine"
	"github.com/hiplane/hipd/internal/wire"
)

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	machine        *statemachine.Machine
	hadb           *hadb.DB
	hids           *hid.Store
	puzzles        *puzzle.Cache
	configReloader ConfigReloader
	shutdownFunc   func() // called by daemon_shutdown to trigger graceful stop
	startTime      int64  // unix timestamp of daemon start, for uptime calc
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(m *statemachine.Machine, hadbDB *hadb.DB, hids *hid.Store, puzzles *puzzle.Cache, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		machine:        m,
		hadb:           hadbDB,
		hids:           hids,
		puzzles:        puzzles,
		configReloader: reloader,
		startTime:      time.Now().Unix(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "trigger_bex", "hid_list"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

func errResp(id string, code int, format string, args ...interface{}) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)}}
}

func okResp(id string, result interface{}) Response {
	return Response{ID: id, Result: result}
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "trigger_bex":
		return h.handleTriggerBEX(ctx, cmd)
	case "close":
		return h.handleClose(ctx, cmd)
	case "ha_list":
		return h.handleHAList(ctx, cmd)
	case "ha_status":
		return h.handleHAStatus(ctx, cmd)
	case "hid_list":
		return h.handleHIDList(ctx, cmd)
	case "hid_generate":
		return h.handleHIDGenerate(ctx, cmd)
	case "hid_default":
		return h.handleHIDDefault(ctx, cmd)
	case "puzzle_difficulty_get":
		return h.handlePuzzleDifficultyGet(ctx, cmd)
	case "puzzle_difficulty_set":
		return h.handlePuzzleDifficultySet(ctx, cmd)
	case "config_reload":
		return h.handleConfigReload(ctx, cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(ctx, cmd)
	case "daemon_status":
		return h.handleDaemonStatus(ctx, cmd)
	case "daemon_stats":
		return h.handleDaemonStats(ctx, cmd)
	default:
		return errResp(cmd.ID, ErrCodeMethodNotFound, "method %q not found", cmd.Method)
	}
}

// ─── Base exchange / teardown ──────────────────────────────────────────

// TriggerBEXParams are the parameters for trigger_bex.
type TriggerBEXParams struct {
	LocalHIT string `json:"local_hit"`
	PeerHIT  string `json:"peer_hit"`
	PeerIP   string `json:"peer_ip"`
	PeerPort uint16 `json:"peer_port"`
}

func (h *CommandHandler) handleTriggerBEX(_ context.Context, cmd Command) Response {
	var p TriggerBEXParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
	}
	local, err := wire.ParseHIT(p.LocalHIT)
	if err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "local_hit: %v", err)
	}
	peer, err := wire.ParseHIT(p.PeerHIT)
	if err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "peer_hit: %v", err)
	}
	port := p.PeerPort
	if port == 0 {
		port = wire.DefaultPort
	}
	ha, err := h.machine.TriggerBEX(local, peer, p.PeerIP, port)
	if err != nil {
		return errResp(cmd.ID, ErrCodeInternalError, "trigger_bex failed: %v", err)
	}
	return okResp(cmd.ID, map[string]interface{}{
		"local_hit": local.String(),
		"peer_hit":  peer.String(),
		"state":     ha.State.String(),
	})
}

// CloseParams are the parameters for close.
type CloseParams struct {
	LocalHIT string `json:"local_hit"`
	PeerHIT  string `json:"peer_hit"`
}

func (h *CommandHandler) handleClose(_ context.Context, cmd Command) Response {
	var p CloseParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
	}
	local, err := wire.ParseHIT(p.LocalHIT)
	if err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "local_hit: %v", err)
	}
	peer, err := wire.ParseHIT(p.PeerHIT)
	if err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "peer_hit: %v", err)
	}
	ha, err := h.machine.TriggerClose(local, peer)
	if err != nil {
		return errResp(cmd.ID, ErrCodeInternalError, "close failed: %v", err)
	}
	return okResp(cmd.ID, map[string]interface{}{
		"local_hit": local.String(),
		"peer_hit":  peer.String(),
		"state":     ha.State.String(),
	})
}

// ─── Host Association introspection ────────────────────────────────────

func haSummary(ha *hadb.HA) map[string]interface{} {
	return map[string]interface{}{
		"local_hit": ha.LocalHIT.String(),
		"peer_hit":  ha.PeerHIT.String(),
		"state":     ha.State.String(),
		"peer_ip":   ha.PeerIP.String(),
		"peer_port": ha.PeerPort,
		"last_seen": ha.LastSeen.UTC().Format(time.RFC3339),
	}
}

func (h *CommandHandler) handleHAList(_ context.Context, cmd Command) Response {
	var list []map[string]interface{}
	h.hadb.ForEach(func(ha *hadb.HA) {
		list = append(list, haSummary(ha))
	})
	return okResp(cmd.ID, map[string]interface{}{
		"associations": list,
		"count":        len(list),
	})
}

// HAStatusParams are the parameters for ha_status.
type HAStatusParams struct {
	LocalHIT string `json:"local_hit"`
	PeerHIT  string `json:"peer_hit"`
}

func (h *CommandHandler) handleHAStatus(_ context.Context, cmd Command) Response {
	var p HAStatusParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
	}
	local, err := wire.ParseHIT(p.LocalHIT)
	if err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "local_hit: %v", err)
	}
	peer, err := wire.ParseHIT(p.PeerHIT)
	if err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "peer_hit: %v", err)
	}
	ha, ok := h.hadb.FindByHITs(local, peer)
	if !ok {
		return errResp(cmd.ID, ErrCodeInternalError, "no association for (%s,%s)", local, peer)
	}
	return okResp(cmd.ID, haSummary(ha))
}

// ─── Host Identity management ──────────────────────────────────────────

func hidSummary(e *hid.Entry) map[string]interface{} {
	return map[string]interface{}{
		"hit":       e.HIT.String(),
		"lsi":       e.LSI.String(),
		"algorithm": int(e.Algo),
		"hostname":  e.Hostname,
		"anonymous": e.Anonymous,
	}
}

func (h *CommandHandler) handleHIDList(_ context.Context, cmd Command) Response {
	var list []map[string]interface{}
	h.hids.ForEach(func(e *hid.Entry) {
		list = append(list, hidSummary(e))
	})
	return okResp(cmd.ID, map[string]interface{}{
		"identities": list,
		"count":      len(list),
	})
}

// HIDGenerateParams are the parameters for hid_generate.
type HIDGenerateParams struct {
	Algorithm string `json:"algorithm"` // "rsa", "ecdsa256", "ecdsa384"
	Bits      int    `json:"bits,omitempty"`
	Hostname  string `json:"hostname"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

func (h *CommandHandler) handleHIDGenerate(_ context.Context, cmd Command) Response {
	var p HIDGenerateParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
	}
	entry, err := generateHID(h.hids, p)
	if err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "hid_generate failed: %v", err)
	}
	return okResp(cmd.ID, hidSummary(entry))
}

func (h *CommandHandler) handleHIDDefault(_ context.Context, cmd Command) Response {
	hit, ok := h.hids.DefaultHIT()
	if !ok {
		return errResp(cmd.ID, ErrCodeInternalError, "no local host identities configured")
	}
	entry, _ := h.hids.Lookup(hit, 0)
	return okResp(cmd.ID, hidSummary(entry))
}

// ─── Puzzle difficulty ─────────────────────────────────────────────────

func (h *CommandHandler) handlePuzzleDifficultyGet(_ context.Context, cmd Command) Response {
	return okResp(cmd.ID, map[string]interface{}{"difficulty": h.puzzles.Difficulty()})
}

// PuzzleDifficultySetParams are the parameters for puzzle_difficulty_set.
type PuzzleDifficultySetParams struct {
	Difficulty uint8 `json:"difficulty"`
}

func (h *CommandHandler) handlePuzzleDifficultySet(_ context.Context, cmd Command) Response {
	var p PuzzleDifficultySetParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errResp(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
	}
	h.puzzles.SetDifficulty(p.Difficulty)
	return okResp(cmd.ID, map[string]interface{}{"difficulty": p.Difficulty})
}

// ─── Daemon lifecycle / introspection ──────────────────────────────────

func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errResp(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}
	if err := h.configReloader.Reload(); err != nil {
		return errResp(cmd.ID, ErrCodeInternalError, "reload config failed: %v", err)
	}
	return okResp(cmd.ID, map[string]interface{}{"status": "reloaded"})
}

func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errResp(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}
	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // non-blocking: let the response be sent first
	return okResp(cmd.ID, map[string]interface{}{"status": "shutting_down"})
}

func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	uptimeSeconds := time.Now().Unix() - h.startTime
	return okResp(cmd.ID, map[string]interface{}{
		"version":      "0.1.0",
		"uptime_sec":   uptimeSeconds,
		"associations": h.hadb.Len(),
		"identities":   h.hids.Len(),
	})
}

func (h *CommandHandler) handleDaemonStats(_ context.Context, cmd Command) Response {
	stateCounts := make(map[string]int)
	h.hadb.ForEach(func(ha *hadb.HA) {
		stateCounts[ha.State.String()]++
	})
	return okResp(cmd.ID, map[string]interface{}{
		"ha_states":  stateCounts,
		"difficulty": h.puzzles.Difficulty(),
	})
}
