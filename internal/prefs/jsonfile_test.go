package prefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func newJSONFile(t *testing.T, seed string) *JSONFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shared_preferences.json")
	if seed != "" {
		if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
			t.Fatalf("seed prefs file: %v", err)
		}
	}
	f, err := OpenJSONFile(path)
	if err != nil {
		t.Fatalf("open prefs file: %v", err)
	}
	return f
}

func TestJSONFileReadsHostWrittenTypes(t *testing.T) {
	f := newJSONFile(t, `{
  "flutter.monitoring_tapCount": 12,
  "flutter.legacy_count": "7",
  "flutter.float_count": 3.0,
  "flutter.accessibility_permission_requested": true,
  "flutter.nothing": null
}`)
	ctx := context.Background()
	cases := map[string]Value{
		"flutter.monitoring_tapCount":                Int(12),
		"flutter.legacy_count":                       String("7"),
		"flutter.float_count":                        Float(3),
		"flutter.accessibility_permission_requested": Bool(true),
	}
	for key, want := range cases {
		got, ok, err := f.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("get %s: ok=%v err=%v", key, ok, err)
		}
		if got != want {
			t.Fatalf("get %s = %+v, want %+v", key, got, want)
		}
	}
	if _, ok, err := f.Get(ctx, "flutter.nothing"); ok || err != nil {
		t.Fatalf("null should read as missing, ok=%v err=%v", ok, err)
	}
	if _, ok, err := f.Get(ctx, "flutter"); ok || err != nil {
		t.Fatalf("dotted keys must not be treated as paths, ok=%v err=%v", ok, err)
	}
}

func TestJSONFileApplyRoundTrip(t *testing.T) {
	f := newJSONFile(t, "")
	ctx := context.Background()
	err := f.Apply(ctx, []Write{
		Put("flutter.monitoring_tapCount", Int(3)),
		Put("flutter.last_tap_time", String("1700")),
		Put("flutter.ratio", Float(2)),
		Put("flutter.ready", Bool(true)),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := map[string]Value{
		"flutter.monitoring_tapCount": Int(3),
		"flutter.last_tap_time":       String("1700"),
		"flutter.ratio":               Float(2),
		"flutter.ready":               Bool(true),
	}
	for key, v := range want {
		got, ok, err := f.Get(ctx, key)
		if err != nil || !ok || got != v {
			t.Fatalf("get %s = %+v ok=%v err=%v, want %+v", key, got, ok, err, v)
		}
	}

	if err := f.Apply(ctx, []Write{Delete("flutter.ready")}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := f.Get(ctx, "flutter.ready"); ok {
		t.Fatalf("flutter.ready should be deleted")
	}

	raw, err := os.ReadFile(f.Path())
	if err != nil {
		t.Fatalf("read prefs file: %v", err)
	}
	if !strings.Contains(string(raw), `"flutter.monitoring_tapCount":3`) {
		t.Fatalf("expected flat dotted key in file, got %s", raw)
	}
}

func TestJSONFileCorruptDocument(t *testing.T) {
	f := newJSONFile(t, `{"flutter.monitoring_tapCount": 4`)
	ctx := context.Background()
	if _, _, err := f.Get(ctx, "flutter.monitoring_tapCount"); err == nil {
		t.Fatalf("expected decode error for corrupt file")
	}
	if err := f.Apply(ctx, []Write{Put("flutter.monitoring_tapCount", Int(1))}); err != nil {
		t.Fatalf("apply over corrupt file: %v", err)
	}
	got, ok, err := f.Get(ctx, "flutter.monitoring_tapCount")
	if err != nil || !ok || got != Int(1) {
		t.Fatalf("unexpected value after recovery: %+v ok=%v err=%v", got, ok, err)
	}
	if _, err := os.Stat(f.Path() + ".corrupt"); err != nil {
		t.Fatalf("expected quarantined copy: %v", err)
	}
}

func TestJSONFileSharedPathKeepsEveryWrite(t *testing.T) {
	first := newJSONFile(t, "")
	second, err := OpenJSONFile(first.Path())
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	ctx := context.Background()

	const perWriter = 40
	var wg sync.WaitGroup
	errs := make(chan error, 2*perWriter)
	for w, f := range []*JSONFile{first, second} {
		wg.Add(1)
		go func(w int, f *JSONFile) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := f.Apply(ctx, []Write{Put(fmt.Sprintf("w%d.k%d", w, i), Int(int64(i)))}); err != nil {
					errs <- err
				}
			}
		}(w, f)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("apply: %v", err)
	}

	for w := 0; w < 2; w++ {
		for i := 0; i < perWriter; i++ {
			key := fmt.Sprintf("w%d.k%d", w, i)
			if v, ok, err := first.Get(ctx, key); err != nil || !ok || v != Int(int64(i)) {
				t.Fatalf("key %s lost: %+v ok=%v err=%v", key, v, ok, err)
			}
		}
	}
}

func TestJSONFileApplyRereadsAfterWaitingForWriter(t *testing.T) {
	f := newJSONFile(t, `{"flutter.monitoring_tapCount":5}`)
	ctx := context.Background()

	lock, err := os.OpenFile(f.Path()+".wlock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("open write lock: %v", err)
	}
	defer lock.Close() //nolint:errcheck
	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX); err != nil {
		t.Fatalf("flock: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- f.Apply(ctx, []Write{Put("flutter.should_request_accessibility", Bool(false))})
	}()
	select {
	case err := <-done:
		t.Fatalf("apply should wait for the other writer, returned %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// The other writer lands its increment before releasing.
	if err := os.WriteFile(f.Path(), []byte(`{"flutter.monitoring_tapCount":6}`), 0o600); err != nil {
		t.Fatalf("write increment: %v", err)
	}
	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_UN); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("apply did not resume after the lock was released")
	}

	if v, _, _ := f.Get(ctx, "flutter.monitoring_tapCount"); v != Int(6) {
		t.Fatalf("count must not go backwards, got %+v", v)
	}
	if v, ok, _ := f.Get(ctx, "flutter.should_request_accessibility"); !ok || v != Bool(false) {
		t.Fatalf("expected cleared request flag, got %+v ok=%v", v, ok)
	}
}

func TestJSONFileClosed(t *testing.T) {
	f := newJSONFile(t, "")
	_ = f.Close()
	if _, _, err := f.Get(context.Background(), "k"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryBackend(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Apply(ctx, []Write{Put("a", Int(1)), Put("b", String("x"))}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got, ok, _ := m.Get(ctx, "a"); !ok || got != Int(1) {
		t.Fatalf("unexpected a: %+v", got)
	}
	if err := m.Apply(ctx, []Write{Delete("a")}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Fatalf("a should be gone")
	}

	boom := errTest("disk full")
	m.FailWrites(boom)
	if err := m.Apply(ctx, []Write{Put("b", String("y"))}); err != boom {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if got, _, _ := m.Get(ctx, "b"); got != String("x") {
		t.Fatalf("failed write must not change state, got %+v", got)
	}
}

func TestValueString(t *testing.T) {
	cases := map[string]Value{
		"5":    Int(5),
		"2.5":  Float(2.5),
		"true": Bool(true),
		"abc":  String("abc"),
	}
	for want, v := range cases {
		if got := v.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
