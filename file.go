// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

import (
	"bytes"
	"io"
	"os"
)

var (
	elfMagic       = []byte{0x7f, 0x45, 0x4c, 0x46}
	peMagic        = []byte{0x4d, 0x5a}
	maxMagicBufLen = 4
	machoMagics    = [][]byte{
		{0xfe, 0xed, 0xfa, 0xce}, // 32-bit, big-endian
		{0xfe, 0xed, 0xfa, 0xcf}, // 64-bit, big-endian
		{0xce, 0xfa, 0xed, 0xfe}, // 32-bit, little-endian
		{0xcf, 0xfa, 0xed, 0xfe}, // 64-bit, little-endian
		{0xca, 0xfe, 0xba, 0xbe}, // fat
		{0xbe, 0xba, 0xfe, 0xca}, // fat, byte-swapped
	}
)

// Open opens the module at the given path and returns a handler to it.
// The format is detected from the file's magic bytes. Exactly one format
// strategy backs the returned File; ErrUnsupportedFile is returned when the
// magic matches none of the supported formats.
func Open(filePath string) (*File, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, maxMagicBufLen)
	n, err := f.Read(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	if n < maxMagicBufLen {
		f.Close()
		return nil, ErrNotEnoughBytesRead
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	var src symbolSource
	switch {
	case fileMagicMatch(buf, elfMagic):
		src, err = openELF(f)
	case fileMagicMatch(buf, peMagic):
		src, err = openPE(f)
	case machoMagicMatch(buf):
		src, err = openMachO(f)
	default:
		f.Close()
		return nil, ErrUnsupportedFile
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{src: src}, nil
}

// NewPEImage returns a handler backed by an already-mapped PE module image.
// The view must cover the module from its base address, laid out the way the
// loader maps it; all RVAs are resolved relative to the start of the view.
// The caller keeps ownership of the view and must keep it valid while the
// File is in use.
func NewPEImage(view []byte) *File {
	return &File{src: &peFile{image: view}}
}

// File represents an opened module, a shared library or an executable.
type File struct {
	src symbolSource
}

// Symbols returns the names of the symbols the module exposes, in discovery
// order with duplicates dropped.
func (f *File) Symbols() ([]string, error) {
	return f.src.symbols(nil)
}

// DemangledSymbols is like Symbols but converts compiler-mangled names to
// human-readable form using the default demangler. Names the demangler does
// not recognize are returned as-is.
func (f *File) DemangledSymbols() ([]string, error) {
	return f.src.symbols(Demangle)
}

// SymbolsWith is like DemangledSymbols with a caller-supplied demangler.
// A nil DemangleFunc disables demangling.
func (f *File) SymbolsWith(dm DemangleFunc) ([]string, error) {
	return f.src.symbols(dm)
}

// Close releases the underlying file handler.
func (f *File) Close() error {
	return f.src.Close()
}

// symbolSource is the contract shared by the three format strategies. The
// strategies are alternative implementations selected at open time, never
// combined at runtime. A call may reposition the underlying stream freely
// and makes no attempt to restore its original position.
type symbolSource interface {
	io.Closer
	symbols(dm DemangleFunc) ([]string, error)
}

func fileMagicMatch(buf, magic []byte) bool {
	return bytes.HasPrefix(buf, magic)
}

func machoMagicMatch(buf []byte) bool {
	for _, magic := range machoMagics {
		if fileMagicMatch(buf, magic) {
			return true
		}
	}
	return false
}
