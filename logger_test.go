package jobconsole

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := ZapLogger(zap.New(core))
	l.Printf("pruned %d workers", 2)
	entries := logs.All()
	if have, want := len(entries), 1; have != want {
		t.Fatalf("len(entries) = %v, want %v", have, want)
	}
	if have, want := entries[0].Message, "pruned 2 workers"; have != want {
		t.Fatalf("Message = %q, want %q", have, want)
	}
}
