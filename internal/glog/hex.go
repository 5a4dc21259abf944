package glog

import (
	"encoding/hex"
	"log/slog"
)

// Hex marks a byte slice attribute, typically a hash or a root,
// to log as a lowercase hex string.
// Logged raw, the bytes would render as a Unicode string
// full of escape codes.
type Hex []byte

var _ slog.LogValuer = Hex(nil)

func (v Hex) LogValue() slog.Value {
	return slog.StringValue(hex.EncodeToString(v))
}
