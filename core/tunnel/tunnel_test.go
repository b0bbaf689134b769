package tunnel

import (
	"os"
	"testing"

	"github.com/searchktools/fast-server/core"
)

type countingMetrics struct {
	inc, dec int
}

func (m *countingMetrics) IncTunnelLinks() { m.inc++ }
func (m *countingMetrics) DecTunnelLinks() { m.dec++ }

func TestDisconnectHookTearsDownPeerSymmetrically(t *testing.T) {
	engine := core.NewEngine()

	r1, w1, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w1.Close()
	defer r1.Close()

	r2, w2, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()

	client := engine.NewPeerConnection(int(r1.Fd()), "http")
	peer := engine.NewPeerConnection(int(r2.Fd()), "unknown")

	metrics := &countingMetrics{}
	hook := disconnectHook(engine, metrics)

	client.Ext = peer
	peer.Ext = client
	client.Disconnect = hook
	peer.Disconnect = hook

	hook(client)

	if client.Ext != nil {
		t.Error("expected client.Ext cleared")
	}
	if peer.Ext != nil {
		t.Error("expected peer.Ext cleared")
	}
	if peer.Disconnect != nil {
		t.Error("expected peer.Disconnect cleared, else closing peer would re-enter this hook")
	}
	if metrics.dec != 1 {
		t.Errorf("expected DecTunnelLinks called once, got %d", metrics.dec)
	}
	if _, ok := engine.Connection(int(r2.Fd())); ok {
		t.Error("expected peer connection removed from the engine after Close")
	}
}

func TestDisconnectHookNoopWithoutPeer(t *testing.T) {
	engine := core.NewEngine()

	r1, w1, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w1.Close()
	defer r1.Close()

	client := engine.NewPeerConnection(int(r1.Fd()), "http")
	metrics := &countingMetrics{}
	hook := disconnectHook(engine, metrics)

	// No Ext set: must not panic and must not touch metrics.
	hook(client)

	if metrics.dec != 0 {
		t.Errorf("expected no DecTunnelLinks call without a linked peer, got %d", metrics.dec)
	}
	if _, ok := engine.Connection(int(r1.Fd())); !ok {
		t.Error("client connection should be untouched when it has no peer")
	}
}
