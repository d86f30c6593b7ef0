package es

import "log/slog"

// Version numbers an aggregate's events within its stream, starting at 1 and
// increasing without gaps. Appends carry the expected current version; a
// mismatch is a concurrency conflict.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }
