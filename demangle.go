// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// DemangleFunc converts a compiler-mangled symbol name into a human-readable
// signature. An empty result means the name has no demangled form and the
// raw name is used as-is. Implementations must not panic, whatever the
// input.
type DemangleFunc func(name string) string

// Demangle is the default demangler. It understands the mangling schemes
// supported by github.com/ianlancetaylor/demangle and normalizes the output
// signature.
func Demangle(name string) string {
	out := demangle.Filter(name, demangle.NoClones)
	if out == name {
		return ""
	}
	return formatSymbol(out)
}

var symbolReplacer = strings.NewReplacer(
	"std::__1::", "std::",
	"std::__cxx11::", "std::",
	"()", "(void)",
	"> >", ">>",
)

// formatSymbol normalizes a demangled signature: implementation-detail
// namespaces are collapsed, ABI tags dropped, and pointer/reference markers
// separated from the type name.
func formatSymbol(s string) string {
	s = symbolReplacer.Replace(s)
	s = stripABITags(s)
	s = addSymSeparator(s, '*')
	s = addSymSeparator(s, '&')
	return s
}

// stripABITags removes "[abi:...]" annotations emitted for tagged symbols.
func stripABITags(s string) string {
	for {
		start := strings.Index(s, "[abi:")
		if start < 0 {
			return s
		}
		end := strings.IndexByte(s[start:], ']')
		if end < 0 {
			return s
		}
		s = s[:start] + s[start+end+1:]
	}
}

func addSymSeparator(s string, sym byte) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == sym && i > 0 && s[i-1] != ' ' && s[i-1] != '&' && s[i-1] != '*' {
			b.WriteByte(' ')
		}
		b.WriteByte(c)
	}
	return b.String()
}
