// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
)

// ErrNoLibraryName is returned when a library is opened with an empty name.
var ErrNoLibraryName = errors.New("no library name given")

// LibraryFilename returns the platform-decorated filename for a bare
// library name, for example "demo" becomes "libdemo.so" on Linux,
// "libdemo.dylib" on macOS and "demo.dll" on Windows.
func LibraryFilename(name string) string {
	switch runtime.GOOS {
	case "windows":
		return name + ".dll"
	case "darwin":
		return "lib" + name + ".dylib"
	default:
		return "lib" + name + ".so"
	}
}

// OpenLibrary opens the shared library with the given name located in dir.
// With decorate set, the platform filename decorations are applied to the
// name first. An empty dir means the name is resolved as given, relative to
// the working directory.
func OpenLibrary(dir, name string, decorate bool) (*Library, error) {
	if name == "" {
		return nil, ErrNoLibraryName
	}
	if decorate {
		name = LibraryFilename(name)
	}
	path := filepath.Join(dir, name)

	f, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not load library %q: %w", path, err)
	}
	lib := &Library{path: path, file: f}
	lib.rawNames = sync.OnceValues(lib.initNames)
	return lib, nil
}

// Library is a handle to a shared library file on disk. It exposes the
// library's symbol names; it does not load the library into the process.
type Library struct {
	path     string
	file     *File
	rawNames func() (map[string]struct{}, error)
}

func (l *Library) initNames() (map[string]struct{}, error) {
	syms, err := l.file.Symbols()
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(syms))
	for _, s := range syms {
		names[s] = struct{}{}
	}
	return names, nil
}

// Path returns the resolved path the library was opened from.
func (l *Library) Path() string {
	return l.path
}

// Symbols returns the raw symbol names the library exposes.
func (l *Library) Symbols() ([]string, error) {
	return l.file.Symbols()
}

// DemangledSymbols returns the library's symbol names in human-readable
// form where possible.
func (l *Library) DemangledSymbols() ([]string, error) {
	return l.file.DemangledSymbols()
}

// SymbolsWith returns the library's symbol names processed with a
// caller-supplied demangler.
func (l *Library) SymbolsWith(dm DemangleFunc) ([]string, error) {
	return l.file.SymbolsWith(dm)
}

// HasSymbol reports whether the library exposes the given raw symbol name.
// It returns false when the symbol table cannot be read.
func (l *Library) HasSymbol(name string) bool {
	if name == "" {
		return false
	}
	names, err := l.rawNames()
	if err != nil {
		return false
	}
	_, ok := names[name]
	return ok
}

// Close releases the underlying file handler.
func (l *Library) Close() error {
	return l.file.Close()
}
