// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

import (
	"debug/elf"
	"fmt"
	"io"
)

func openELF(r io.ReaderAt) (*elfFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("error when parsing the ELF file: %w", err)
	}
	return &elfFile{file: f, reader: r}, nil
}

var _ symbolSource = (*elfFile)(nil)

type elfFile struct {
	file   *elf.File
	reader io.ReaderAt
}

func (e *elfFile) Close() error {
	err := e.file.Close()
	if err != nil {
		return err
	}
	return tryClose(e.reader)
}

// symbols iterates every section and reads the name of each record in the
// symbol-table sections. Names are resolved through the string table the
// section's link field points at. ELF names carry no underscore decoration,
// so none is stripped.
func (e *elfFile) symbols(dm DemangleFunc) ([]string, error) {
	col := newCollector(dm)
	for _, section := range e.file.Sections {
		if section.Type != elf.SHT_SYMTAB && section.Type != elf.SHT_DYNSYM {
			continue
		}

		data, err := section.Data()
		if err != nil {
			return nil, fmt.Errorf("error when reading section %s: %w", section.Name, err)
		}
		if section.Entsize == 0 {
			return nil, fmt.Errorf("error when reading section %s: zero entry size", section.Name)
		}
		if int(section.Link) >= len(e.file.Sections) {
			return nil, fmt.Errorf("error when reading section %s: bad string table link %d", section.Name, section.Link)
		}
		strtab, err := e.file.Sections[section.Link].Data()
		if err != nil {
			return nil, fmt.Errorf("error when reading the string table for %s: %w", section.Name, err)
		}

		// The st_name field is the leading word of the record in both the
		// 32-bit and 64-bit layouts.
		count := uint64(len(data)) / section.Entsize
		for i := uint64(0); i < count; i++ {
			record := data[i*section.Entsize:]
			if len(record) < 4 {
				return nil, fmt.Errorf("error when reading section %s: truncated symbol record", section.Name)
			}
			nameOffset := e.file.ByteOrder.Uint32(record)
			col.add(cstringAt(strtab, nameOffset))
		}
	}
	return col.result(), nil
}
