package engine

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/rootSig/electrum-atom-t/internal/bootstrap"
	"github.com/rootSig/electrum-atom-t/internal/header"
	"github.com/rootSig/electrum-atom-t/internal/store"
)

const genesisHex = "010000000000000000000000000000000000000000000000000000000000000000000000" +
	"3ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a29ab5f49ffff001d1dac2b7c"

const block1Hex = "010000006fe28c0ab6f1b372c1a6a246ae63f74f931e8365e15a089c68d6190000000000" +
	"982051fd1e4ba744bbbe680e1fee14677ba1a3c3540bf7b1cdb606e857233e0e61bc6649ffff001d01e36299"

type fakeClient struct {
	addr string
	tips chan *header.Header
}

func (f *fakeClient) Address() string            { return f.addr }
func (f *fakeClient) Tips() <-chan *header.Header { return f.tips }
func (f *fakeClient) Close()                      {}
func (f *fakeClient) GetHeader(ctx context.Context, height int64) (*header.Header, error) {
	return nil, context.DeadlineExceeded
}

func seedGenesis(t *testing.T, dataDir string) {
	t.Helper()
	s, err := store.Open(filepath.Join(dataDir, "blockchain_headers"))
	if err != nil {
		t.Fatalf("seed store.Open: %v", err)
	}
	defer s.Close()
	b, err := hex.DecodeString(genesisHex)
	if err != nil {
		t.Fatal(err)
	}
	h, err := header.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteHeader(h); err != nil {
		t.Fatalf("seed WriteHeader: %v", err)
	}
}

func TestEngineExtendsTipFromPeer(t *testing.T) {
	dir := t.TempDir()
	seedGenesis(t, dir)

	e, err := New(Options{DataDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var advancedTo int64 = -1
	e.OnTipAdvanced(func(h int64) { advancedTo = h })

	client := &fakeClient{addr: "peer-a", tips: make(chan *header.Header, 1)}
	e.AddPeer(client)

	b, err := hex.DecodeString(block1Hex)
	if err != nil {
		t.Fatal(err)
	}
	block1, err := header.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	// Peers report block_height alongside the header; Decode leaves it 0.
	block1.BlockHeight = 1
	client.tips <- block1

	ctx := context.Background()
	if err := e.Start(ctx, bootstrap.Options{Skip: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		tip, _ := e.TipHeight()
		if tip == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	tip, err := e.TipHeight()
	if err != nil {
		t.Fatalf("TipHeight: %v", err)
	}
	if tip != 1 {
		t.Fatalf("tip height = %d, want 1", tip)
	}
	if advancedTo != 1 {
		t.Fatalf("OnTipAdvanced callback saw %d, want 1", advancedTo)
	}

	got, err := e.ReadHeader(1)
	if err != nil || got == nil {
		t.Fatalf("ReadHeader(1) = %v, %v", got, err)
	}
}

func TestEngineStartStopIsRunning(t *testing.T) {
	dir := t.TempDir()
	seedGenesis(t, dir)

	e, err := New(Options{DataDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.IsRunning() {
		t.Fatal("expected not running before Start")
	}
	if err := e.Start(context.Background(), bootstrap.Options{Skip: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !e.IsRunning() {
		t.Fatal("expected running after Start")
	}
	e.Stop()
	if e.IsRunning() {
		t.Fatal("expected not running after Stop")
	}
}
