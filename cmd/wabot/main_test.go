package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxkit/wabot/internal/store"
)

func TestPruneBotMessages(t *testing.T) {
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.TrackBotMessage("GW100", "14155550100"); err != nil {
		t.Fatalf("TrackBotMessage failed: %v", err)
	}

	// A cutoff in the past keeps fresh entries.
	pruneBotMessages(st, time.Now().Add(-botMessageRetention))
	sent, err := st.WasSentByBot("GW100")
	if err != nil || !sent {
		t.Errorf("expected fresh entry kept, got (%v, %v)", sent, err)
	}

	// A cutoff past the entry removes it.
	pruneBotMessages(st, time.Now().Add(time.Minute))
	sent, err = st.WasSentByBot("GW100")
	if err != nil || sent {
		t.Errorf("expected entry pruned, got (%v, %v)", sent, err)
	}
}
