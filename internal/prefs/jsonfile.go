package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// JSONFile keeps every key in one flat JSON object on disk, the layout
// SharedPreferences-style hosts use. Writes go through a temp file and rename
// while holding an flock on <path>.wlock, so processes sharing the file never
// rename in a document edited from a stale read.
type JSONFile struct {
	mu     sync.Mutex
	path   string
	closed bool
}

func OpenJSONFile(path string) (*JSONFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("prefs path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create prefs dir: %w", err)
	}
	return &JSONFile{path: path}, nil
}

func (f *JSONFile) Path() string {
	return f.path
}

func (f *JSONFile) Get(_ context.Context, key string) (Value, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Value{}, false, ErrClosed
	}
	doc, err := f.readLocked()
	if err != nil {
		return Value{}, false, err
	}
	if !gjson.ValidBytes(doc) {
		return Value{}, false, fmt.Errorf("decode prefs file %s: invalid json", f.path)
	}
	return fromResult(gjson.GetBytes(doc, escapeKey(key)))
}

func (f *JSONFile) Apply(_ context.Context, writes []Write) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if len(writes) == 0 {
		return nil
	}
	unlock, err := f.lockWriters()
	if err != nil {
		return err
	}
	defer unlock()
	doc, err := f.readLocked()
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(doc) || !gjson.ParseBytes(doc).IsObject() {
		if err := f.quarantineLocked(doc); err != nil {
			return err
		}
		doc = []byte("{}")
	}
	for _, w := range writes {
		path := escapeKey(w.Key)
		if w.Value == nil {
			doc, err = sjson.DeleteBytes(doc, path)
		} else {
			doc, err = setValue(doc, path, *w.Value)
		}
		if err != nil {
			return fmt.Errorf("encode pref %s: %w", w.Key, err)
		}
	}
	return f.writeLocked(doc)
}

func (f *JSONFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *JSONFile) lockPath() string {
	return f.path + ".wlock"
}

// lockWriters blocks until this process is the only writer of the file.
func (f *JSONFile) lockWriters() (func(), error) {
	lf, err := os.OpenFile(f.lockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open prefs write lock: %w", err)
	}
	for {
		err = syscall.Flock(int(lf.Fd()), syscall.LOCK_EX)
		if !errors.Is(err, syscall.EINTR) {
			break
		}
	}
	if err != nil {
		lf.Close() //nolint:errcheck
		return nil, fmt.Errorf("lock prefs file: %w", err)
	}
	return func() {
		_ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN)
		_ = lf.Close()
	}, nil
}

func (f *JSONFile) readLocked() ([]byte, error) {
	doc, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs file: %w", err)
	}
	if len(strings.TrimSpace(string(doc))) == 0 {
		return []byte("{}"), nil
	}
	return doc, nil
}

func (f *JSONFile) writeLocked(doc []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".prefs-*.json")
	if err != nil {
		return fmt.Errorf("create temp prefs file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(doc); err != nil {
		cleanup()
		return fmt.Errorf("write prefs file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync prefs file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close prefs file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod prefs file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace prefs file: %w", err)
	}
	return nil
}

// quarantineLocked keeps an unreadable document next to the live file before
// it is replaced.
func (f *JSONFile) quarantineLocked(doc []byte) error {
	if err := os.WriteFile(f.path+".corrupt", doc, 0o600); err != nil {
		return fmt.Errorf("quarantine prefs file: %w", err)
	}
	return nil
}

func setValue(doc []byte, path string, v Value) ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return sjson.SetBytes(doc, path, v.Int)
	case KindFloat:
		return sjson.SetRawBytes(doc, path, []byte(formatFloat(v.Float)))
	case KindBool:
		return sjson.SetBytes(doc, path, v.Bool)
	default:
		return sjson.SetBytes(doc, path, v.Str)
	}
}

// formatFloat always emits a fraction or exponent so the value reads back as
// a float rather than an integer.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsAny(s, ".eEnN") {
		return s
	}
	return s + ".0"
}

func fromResult(res gjson.Result) (Value, bool, error) {
	if !res.Exists() {
		return Value{}, false, nil
	}
	switch res.Type {
	case gjson.Null:
		return Value{}, false, nil
	case gjson.True, gjson.False:
		return Bool(res.Bool()), true, nil
	case gjson.String:
		return String(res.Str), true, nil
	case gjson.Number:
		if !strings.ContainsAny(res.Raw, ".eE") {
			if n, err := strconv.ParseInt(res.Raw, 10, 64); err == nil {
				return Int(n), true, nil
			}
		}
		return Float(res.Num), true, nil
	default:
		return String(res.Raw), true, nil
	}
}

func escapeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
