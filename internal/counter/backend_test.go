package counter_test

import (
	"context"
	"testing"

	"github.com/g960059/tapmon/internal/counter"
	"github.com/g960059/tapmon/internal/prefs"
	"github.com/g960059/tapmon/internal/testutil"
)

func TestCounterAcrossBackends(t *testing.T) {
	for name, backend := range testutil.Backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)
			store := counter.NewStore(backend, counter.KeysWithPrefix("flutter."), nil)

			if err := backend.Apply(ctx, []prefs.Write{prefs.Put(store.Keys().TapCount, prefs.String("40"))}); err != nil {
				t.Fatalf("seed legacy string count: %v", err)
			}
			if got := store.Read(ctx); got != 40 {
				t.Fatalf("legacy string count should decode, got %d", got)
			}
			for i := 0; i < 3; i++ {
				if _, err := store.Increment(ctx); err != nil {
					t.Fatalf("increment: %v", err)
				}
			}
			if got := store.Read(ctx); got != 43 {
				t.Fatalf("expected 43, got %d", got)
			}
			v, ok, err := backend.Get(ctx, store.Keys().TapCount)
			if err != nil || !ok || v != prefs.Int(43) {
				t.Fatalf("count should be stored natively, got %+v ok=%v err=%v", v, ok, err)
			}

			if _, err := store.MarkPermissionPromptIssued(ctx); err != nil {
				t.Fatalf("mark prompt: %v", err)
			}
			if !store.IsPermissionPromptIssued(ctx) {
				t.Fatalf("prompt flag should persist")
			}
		})
	}
}
