// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

import (
	"bytes"
	"io"
)

// tryClose closes r when the underlying reader owns a resource. Readers
// supplied as plain byte views are left alone.
func tryClose(r any) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// cstringAt reads a null-terminated string from b starting at off. An offset
// outside b yields an empty string; an unterminated tail is returned as-is.
func cstringAt(b []byte, off uint32) string {
	if uint64(off) >= uint64(len(b)) {
		return ""
	}
	end := bytes.IndexByte(b[off:], 0)
	if end < 0 {
		return string(b[off:])
	}
	return string(b[off : int(off)+end])
}
