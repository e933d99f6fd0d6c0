package command

import (
	"context"
	"crypto/elliptic"
	"encoding/json"
	"testing"
	"time"

	"github.com/hiplane/hipd/internal/hadb"
	"github.com/hiplane/hipd/internal/hid"
	"github.com/hiplane/hipd/internal/puzzle"
	"github.com/hiplane/hipd/internal/sa"
	"github.com/hiplane/hipd/internal/statemachine"
	"github.com/hiplane/hipd/internal/wire"
	"github.com/stretchr/testify/require"
)

type noopOutbound struct{}

func (noopOutbound) Send(*wire.Message, string, uint16) error { return nil }

type mockConfigReloader struct {
	reloadFunc func() error
}

func (m *mockConfigReloader) Reload() error {
	if m.reloadFunc != nil {
		return m.reloadFunc()
	}
	return nil
}

func newTestHandler(t *testing.T, reloader ConfigReloader) (*CommandHandler, *hadb.DB, *hid.Store, *puzzle.Cache) {
	t.Helper()
	db := hadb.New()
	hids := hid.New()
	puzzles := puzzle.NewCache(time.Hour, 2)
	sas := sa.NewManager()
	m := statemachine.New(db, hids, puzzles, sas, noopOutbound{})
	return NewCommandHandler(m, db, hids, puzzles, reloader), db, hids, puzzles
}

func TestHandleHIDGenerateAndList(t *testing.T) {
	h, _, _, _ := newTestHandler(t, nil)

	params, err := json.Marshal(HIDGenerateParams{Algorithm: "ecdsa256", Hostname: "node.example"})
	require.NoError(t, err)
	resp := h.Handle(context.Background(), Command{Method: "hid_generate", Params: params, ID: "req-1"})
	require.Equal(t, "req-1", resp.ID)
	require.Nil(t, resp.Error)

	resp = h.Handle(context.Background(), Command{Method: "hid_list", ID: "req-2"})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 1, result["count"])
}

func TestHandleHIDDefaultWithNoIdentities(t *testing.T) {
	h, _, _, _ := newTestHandler(t, nil)
	resp := h.Handle(context.Background(), Command{Method: "hid_default", ID: "req-3"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestHandleTriggerBEXAndHAList(t *testing.T) {
	h, _, hids, _ := newTestHandler(t, nil)
	entry, err := hids.GenerateECDSA(elliptic.P256(), "initiator.example", false)
	require.NoError(t, err)

	params, err := json.Marshal(TriggerBEXParams{
		LocalHIT: entry.HIT.String(),
		PeerHIT:  wire.HIT{0x09}.String(),
		PeerIP:   "203.0.113.5",
	})
	require.NoError(t, err)

	resp := h.Handle(context.Background(), Command{Method: "trigger_bex", Params: params, ID: "req-4"})
	require.Nil(t, resp.Error)

	resp = h.Handle(context.Background(), Command{Method: "ha_list", ID: "req-5"})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	require.EqualValues(t, 1, result["count"])
}

func TestHandlePuzzleDifficultyGetAndSet(t *testing.T) {
	h, _, _, puzzles := newTestHandler(t, nil)

	resp := h.Handle(context.Background(), Command{Method: "puzzle_difficulty_get", ID: "req-6"})
	require.Nil(t, resp.Error)

	params, err := json.Marshal(PuzzleDifficultySetParams{Difficulty: 5})
	require.NoError(t, err)
	resp = h.Handle(context.Background(), Command{Method: "puzzle_difficulty_set", Params: params, ID: "req-7"})
	require.Nil(t, resp.Error)
	require.EqualValues(t, 5, puzzles.Difficulty())
}

func TestHandleConfigReload(t *testing.T) {
	reloadCalled := false
	reloader := &mockConfigReloader{reloadFunc: func() error {
		reloadCalled = true
		return nil
	}}
	h, _, _, _ := newTestHandler(t, reloader)

	resp := h.Handle(context.Background(), Command{Method: "config_reload", ID: "req-8"})
	require.Nil(t, resp.Error)
	require.True(t, reloadCalled)
}

func TestHandleUnknownMethod(t *testing.T) {
	h, _, _, _ := newTestHandler(t, nil)
	resp := h.Handle(context.Background(), Command{Method: "bogus", ID: "req-9"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestHandleInvalidParams(t *testing.T) {
	h, _, _, _ := newTestHandler(t, nil)
	resp := h.Handle(context.Background(), Command{Method: "trigger_bex", Params: json.RawMessage(`{invalid`), ID: "req-10"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestHandleDaemonStatusAndStats(t *testing.T) {
	h, _, _, _ := newTestHandler(t, nil)
	resp := h.Handle(context.Background(), Command{Method: "daemon_status", ID: "req-11"})
	require.Nil(t, resp.Error)

	resp = h.Handle(context.Background(), Command{Method: "daemon_stats", ID: "req-12"})
	require.Nil(t, resp.Error)
}
