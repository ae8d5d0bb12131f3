package prefs

import (
	"context"
	"errors"
	"strconv"
)

var ErrClosed = errors.New("prefs backend closed")

type Kind string

const (
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
	KindBool   Kind = "bool"
)

// Value keeps the storage class a value was written with, so readers can tell
// an integer from its string spelling.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
	Bool  bool
}

func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }

func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }

func String(v string) Value { return Value{Kind: KindString, Str: v} }

func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// Write replaces Key with Value. A nil Value deletes the key.
type Write struct {
	Key   string
	Value *Value
}

func Put(key string, v Value) Write {
	return Write{Key: key, Value: &v}
}

func Delete(key string) Write {
	return Write{Key: key}
}

// Backend is a flat key/value store. Apply must replace all keys of a batch
// atomically with respect to Get.
type Backend interface {
	Get(ctx context.Context, key string) (Value, bool, error)
	Apply(ctx context.Context, writes []Write) error
	Close() error
}
