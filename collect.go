// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

// collector accumulates symbol names in discovery order. The first
// occurrence of a raw name wins; later occurrences are dropped. The dedupe
// key is always the raw name, even when the stored value is the demangled
// form.
type collector struct {
	names []string
	seen  map[string]struct{}
	dm    DemangleFunc
}

func newCollector(dm DemangleFunc) *collector {
	return &collector{
		names: make([]string, 0),
		seen:  make(map[string]struct{}),
		dm:    dm,
	}
}

// add applies the shared insertion policy to one candidate raw name. Empty
// names are skipped silently. When a demangler is set and produces a
// non-empty form, that form is stored in place of the raw name.
func (c *collector) add(raw string) {
	if raw == "" {
		return
	}
	if _, ok := c.seen[raw]; ok {
		return
	}
	c.seen[raw] = struct{}{}

	if c.dm != nil {
		if demangled := c.dm(raw); demangled != "" {
			c.names = append(c.names, demangled)
			return
		}
	}
	c.names = append(c.names, raw)
}

func (c *collector) result() []string {
	return c.names
}
