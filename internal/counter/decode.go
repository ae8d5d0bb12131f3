package counter

import (
	"math"
	"strconv"
	"strings"

	"github.com/g960059/tapmon/internal/prefs"
)

// CountStrategy tries to read a tap count out of one stored encoding.
type CountStrategy struct {
	Name   string
	Decode func(prefs.Value) (int64, bool)
}

// DecodeStrategies is tried in order; the native integer encoding written by
// Increment comes first.
var DecodeStrategies = []CountStrategy{
	{Name: "int", Decode: decodeNativeInt},
	{Name: "integral_float", Decode: decodeIntegralFloat},
	{Name: "decimal_string", Decode: decodeDecimalString},
}

func DecodeCount(v prefs.Value) (int64, string, bool) {
	for _, s := range DecodeStrategies {
		if n, ok := s.Decode(v); ok {
			return n, s.Name, true
		}
	}
	return 0, "", false
}

func decodeNativeInt(v prefs.Value) (int64, bool) {
	if v.Kind != prefs.KindInt || v.Int < 0 {
		return 0, false
	}
	return v.Int, true
}

func decodeIntegralFloat(v prefs.Value) (int64, bool) {
	if v.Kind != prefs.KindFloat {
		return 0, false
	}
	f := v.Float
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f > math.MaxInt64/2 {
		return 0, false
	}
	return int64(f), true
}

func decodeDecimalString(v prefs.Value) (int64, bool) {
	if v.Kind != prefs.KindString {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func decodeFlag(v prefs.Value) (bool, bool) {
	switch v.Kind {
	case prefs.KindBool:
		return v.Bool, true
	case prefs.KindInt:
		return v.Int != 0, true
	case prefs.KindString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.Str))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// decodeTimestamp accepts the decimal-string spelling the memo is written in,
// and a native integer. Negative times read as absent.
func decodeTimestamp(v prefs.Value) (int64, bool) {
	var n int64
	switch v.Kind {
	case prefs.KindInt:
		n = v.Int
	case prefs.KindString:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if n < 0 {
		return 0, false
	}
	return n, true
}
