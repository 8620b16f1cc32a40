// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blacktop/go-macho/types"
)

const (
	machoMagic32  = 0xfeedface
	machoMagic64  = 0xfeedfacf
	machoCigam32  = 0xcefaedfe
	machoCigam64  = 0xcffaedfe
	machoFatMagic = 0xcafebabe
	machoFatCigam = 0xbebafeca

	lcSymtab = 0x2

	loadCommandSize = 8

	// Caps on table sizes read from header fields. Anything beyond these is
	// a corrupt file, not a buffer we should try to allocate.
	maxFatArches      = 1 << 10
	maxLoadCommands   = 1 << 16
	maxSymtabEntries  = 1 << 24
	maxStringTableLen = 1 << 30
)

// Fixed-layout Mach-O records, read verbatim from the stream.

type machHeader32 struct {
	Magic      uint32
	CPUType    uint32
	CPUSubtype uint32
	FileType   uint32
	NCmds      uint32
	SizeOfCmds uint32
	Flags      uint32
}

// machHeader64 only differs from the 32-bit layout by a trailing reserved
// field.
type machHeader64 struct {
	machHeader32
	Reserved uint32
}

type loadCommand struct {
	Cmd     uint32
	CmdSize uint32
}

type symtabCommand struct {
	Cmd     uint32
	CmdSize uint32
	SymOff  uint32
	NSyms   uint32
	StrOff  uint32
	StrSize uint32
}

type nlist32 struct {
	StrX  uint32
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint32
}

type nlist64 struct {
	StrX  uint32
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

// Fat container records. On disk these are always big-endian.

type fatHeader struct {
	Magic    uint32
	NFatArch uint32
}

type fatArch struct {
	CPUType    uint32
	CPUSubtype uint32
	Offset     uint32
	Size       uint32
	Align      uint32
}

func openMachO(r io.ReadSeeker) (*machoFile, error) {
	return &machoFile{r: r}, nil
}

var _ symbolSource = (*machoFile)(nil)

type machoFile struct {
	r io.ReadSeeker
}

func (m *machoFile) Close() error {
	return tryClose(m.r)
}

// symbols dispatches on the container magic: fat containers extract each
// embedded architecture slice in descriptor order, thin files extract the
// single slice at offset 0. Duplicates are only suppressed within one
// slice's pass, not across slices.
func (m *machoFile) symbols(dm DemangleFunc) ([]string, error) {
	magic, err := m.readMagic(0)
	if err != nil {
		return nil, err
	}

	switch magic {
	case machoFatMagic, machoFatCigam:
		return m.fatSymbols(dm)
	case machoMagic64, machoCigam64:
		return m.sliceSymbols(dm, 0, true)
	case machoMagic32, machoCigam32:
		return m.sliceSymbols(dm, 0, false)
	default:
		return nil, ErrUnsupportedFile
	}
}

func (m *machoFile) fatSymbols(dm DemangleFunc) ([]string, error) {
	if _, err := m.r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	// Fat header fields are big-endian on disk regardless of the host.
	var hdr fatHeader
	if err := binary.Read(m.r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("error when reading the fat header: %w", err)
	}
	if hdr.NFatArch == 0 || hdr.NFatArch > maxFatArches {
		return nil, fmt.Errorf("%w: bad fat arch count %d", ErrMalformedMachO, hdr.NFatArch)
	}

	arches := make([]fatArch, hdr.NFatArch)
	if err := binary.Read(m.r, binary.BigEndian, arches); err != nil {
		return nil, fmt.Errorf("error when reading the fat arch table: %w", err)
	}

	var result []string
	for _, arch := range arches {
		// A slice is treated as 64-bit only when its CPU type is x86-64.
		// Other 64-bit CPU types in a fat file, arm64 included, take the
		// 32-bit path. Kept for compatibility with existing consumers.
		is64 := types.CPU(arch.CPUType) == types.CPUAmd64
		names, err := m.sliceSymbols(dm, int64(arch.Offset), is64)
		if err != nil {
			return nil, err
		}
		result = append(result, names...)
	}
	return result, nil
}

// sliceSymbols extracts the symbol names of one architecture slice starting
// at the given file offset. All offsets in the slice's symtab command are
// relative to the start of the slice.
func (m *machoFile) sliceSymbols(dm DemangleFunc, offset int64, is64 bool) ([]string, error) {
	magic, err := m.readMagic(offset)
	if err != nil {
		return nil, err
	}
	order := byteOrderForMagic(magic)
	if order == nil {
		return nil, fmt.Errorf("%w: bad magic %#x at offset %d", ErrMalformedMachO, magic, offset)
	}

	if _, err := m.r.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	var ncmds uint32
	if is64 {
		var hdr machHeader64
		if err := binary.Read(m.r, order, &hdr); err != nil {
			return nil, fmt.Errorf("error when reading the mach header: %w", err)
		}
		ncmds = hdr.NCmds
	} else {
		var hdr machHeader32
		if err := binary.Read(m.r, order, &hdr); err != nil {
			return nil, fmt.Errorf("error when reading the mach header: %w", err)
		}
		ncmds = hdr.NCmds
	}
	if ncmds > maxLoadCommands {
		return nil, fmt.Errorf("%w: bad load command count %d", ErrMalformedMachO, ncmds)
	}

	col := newCollector(dm)
	for i := uint32(0); i < ncmds; i++ {
		var lc loadCommand
		if err := binary.Read(m.r, order, &lc); err != nil {
			return nil, fmt.Errorf("error when reading load command %d: %w", i, err)
		}
		// Position right after the fixed (cmd, cmdsize) prefix. Iteration
		// resumes from here regardless of any inner seeks.
		cur, err := m.r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}

		if lc.Cmd == lcSymtab {
			if err := m.readSymtab(col, order, offset, cur, is64); err != nil {
				return nil, err
			}
		}

		if lc.CmdSize < loadCommandSize {
			return nil, fmt.Errorf("%w: load command %d too short", ErrMalformedMachO, i)
		}
		if _, err := m.r.Seek(cur+int64(lc.CmdSize)-loadCommandSize, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return col.result(), nil
}

// readSymtab reads the full symtab command starting at the load-command
// prefix, loads the symbol records and the string table, and feeds every
// resolvable name to the collector. Mach-O decorates C symbols with a
// leading underscore; one is stripped before the name is considered.
func (m *machoFile) readSymtab(col *collector, order binary.ByteOrder, sliceOffset, afterPrefix int64, is64 bool) error {
	if _, err := m.r.Seek(afterPrefix-loadCommandSize, io.SeekStart); err != nil {
		return err
	}
	var st symtabCommand
	if err := binary.Read(m.r, order, &st); err != nil {
		return fmt.Errorf("error when reading the symtab command: %w", err)
	}
	if st.NSyms > maxSymtabEntries {
		return fmt.Errorf("%w: bad symbol count %d", ErrMalformedMachO, st.NSyms)
	}
	if st.StrSize > maxStringTableLen {
		return fmt.Errorf("%w: bad string table size %d", ErrMalformedMachO, st.StrSize)
	}

	if _, err := m.r.Seek(sliceOffset+int64(st.SymOff), io.SeekStart); err != nil {
		return err
	}
	indexes := make([]uint32, 0, st.NSyms)
	if is64 {
		records := make([]nlist64, st.NSyms)
		if err := binary.Read(m.r, order, records); err != nil {
			return fmt.Errorf("error when reading the symbol table: %w", err)
		}
		for _, rec := range records {
			indexes = append(indexes, rec.StrX)
		}
	} else {
		records := make([]nlist32, st.NSyms)
		if err := binary.Read(m.r, order, records); err != nil {
			return fmt.Errorf("error when reading the symbol table: %w", err)
		}
		for _, rec := range records {
			indexes = append(indexes, rec.StrX)
		}
	}

	strtab := make([]byte, st.StrSize)
	if _, err := m.r.Seek(sliceOffset+int64(st.StrOff), io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(m.r, strtab); err != nil {
		return fmt.Errorf("error when reading the string table: %w", err)
	}

	for _, strx := range indexes {
		name := cstringAt(strtab, strx)
		if name == "" {
			continue
		}
		if name[0] == '_' {
			name = name[1:]
		}
		col.add(name)
	}
	return nil
}

// readMagic reads the 4 magic bytes at the given offset, interpreted
// big-endian so the value is independent of the host byte order.
func (m *machoFile) readMagic(offset int64) (uint32, error) {
	if _, err := m.r.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(m.r, buf); err != nil {
		return 0, fmt.Errorf("error when reading the magic: %w", err)
	}
	return binary.BigEndian.Uint32(buf), nil
}

// byteOrderForMagic maps a big-endian-read magic value to the byte order of
// the file's own fields. A byte-swapped magic means the file was written in
// the opposite order.
func byteOrderForMagic(magic uint32) binary.ByteOrder {
	switch magic {
	case machoMagic32, machoMagic64:
		return binary.BigEndian
	case machoCigam32, machoCigam64:
		return binary.LittleEndian
	default:
		return nil
	}
}
