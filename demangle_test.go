// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDemangle(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		expected string
	}{
		{"plain function", "_Z5adderdd", "adder(double, double)"},
		{"namespaced function", "_ZN5tools5adderEdd", "tools::adder(double, double)"},
		{"no arguments", "_Z3foov", "foo(void)"},
		{"not mangled", "main", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Demangle(tt.symbol))
		})
	}
}

func TestFormatSymbol(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"std::__cxx11::basic_string", "std::basic_string"},
		{"std::__1::vector", "std::vector"},
		{"foo()", "foo(void)"},
		{"foo(char*)", "foo(char *)"},
		{"foo(char&)", "foo(char &)"},
		{"foo(char **)", "foo(char **)"},
		{"pi[abi:cxx11]", "pi"},
		{"pi[abi:ue170006]", "pi"},
		{"set<pair<int, int> >", "set<pair<int, int>>"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatSymbol(tt.input), "input: %s", tt.input)
	}
}
