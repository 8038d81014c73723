package overlay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sqmcode-go/bus"
	"sqmcode-go/types"
)

func TestWrite_CreatesParentAndRoundsTwoPlaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allsky", "overlay", "sqm.json")
	if err := Write(path, 5.99703625728883); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"AS_MPSAS":6.00}` {
		t.Fatalf("file = %s", b)
	}

	if err := Write(path, 21.456); err != nil {
		t.Fatal(err)
	}
	b, _ = os.ReadFile(path)
	if string(b) != `{"AS_MPSAS":21.46}` {
		t.Fatalf("file = %s", b)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("leftover temp files: %v", entries)
	}
}

func TestService_WritesOnValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqm.json")
	conn := bus.NewBus(4).NewConnection("overlay_test")
	s := New(conn, types.OverlayConfig{Enabled: true, Path: path})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.Publish(conn.NewMessage(topicSQMValue, types.SQMValue{Magnitude: 20.1}, true))
	go s.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for {
		b, err := os.ReadFile(path)
		if err == nil && string(b) == `{"AS_MPSAS":20.10}` {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("overlay not written: %s %v", b, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
