// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

import "errors"

var (
	// ErrNotEnoughBytesRead is returned if a read call returned less bytes than what is needed.
	ErrNotEnoughBytesRead = errors.New("not enough bytes read")
	// ErrUnsupportedFile is returned if the file matches none of the supported formats.
	ErrUnsupportedFile = errors.New("unsupported file format")
	// ErrNoExports is returned when a PE module has no export directory. A missing
	// export table is a caller-visible condition, not an empty result.
	ErrNoExports = errors.New("no export directory found")
	// ErrMalformedPE is returned when a PE image violates the format, for example
	// a bad DOS or NT signature or a header field pointing outside the image.
	ErrMalformedPE = errors.New("malformed PE image")
	// ErrMalformedMachO is returned when a Mach-O file violates the format.
	ErrMalformedMachO = errors.New("malformed Mach-O file")
)
