// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"
)

const (
	dosSignature = 0x5a4d     // "MZ"
	ntSignature  = 0x00004550 // "PE\0\0"

	optionalMagicPE32     = 0x10b
	optionalMagicPE32Plus = 0x20b

	// Offset of the data-directory table inside the optional header.
	dataDirOffsetPE32     = 96
	dataDirOffsetPE32Plus = 112

	// e_lfanew lives at this fixed offset inside the DOS header.
	dosHeaderExtOffset = 0x3c

	exportDirectorySize = 40

	// Largest module image openPE is willing to reconstruct.
	maxImageSize = 1 << 31
)

// exportDirectory is the PE export directory record. The three Address*
// fields are RVAs of parallel arrays: function RVAs, name-pointer RVAs and
// name-ordinal indices.
type exportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// openPE parses the PE file and reconstructs the module image the way the
// loader would map it: headers first, then each section at its virtual
// address. The export walk operates on that image so RVAs resolve by plain
// offset from the start of the view.
func openPE(osFile *os.File) (peF *peFile, err error) {
	// Parsing the file by debug/pe can panic if the PE file is malformed.
	// To prevent a crash, we recover the panic and return it as an error
	// instead.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("error when processing PE file, probably corrupt: %s", r)
		}
	}()

	f, err := pe.NewFile(osFile)
	if err != nil {
		err = fmt.Errorf("error when parsing the PE file: %w", err)
		return
	}

	var sizeOfImage, sizeOfHeaders uint32
	switch hdr := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		sizeOfImage = hdr.SizeOfImage
		sizeOfHeaders = hdr.SizeOfHeaders
	case *pe.OptionalHeader64:
		sizeOfImage = hdr.SizeOfImage
		sizeOfHeaders = hdr.SizeOfHeaders
	default:
		err = fmt.Errorf("%w: unknown optional header type", ErrMalformedPE)
		return
	}
	if sizeOfImage == 0 || sizeOfImage > maxImageSize {
		err = fmt.Errorf("%w: bad image size %d", ErrMalformedPE, sizeOfImage)
		return
	}
	if sizeOfHeaders > sizeOfImage {
		sizeOfHeaders = sizeOfImage
	}

	image := make([]byte, sizeOfImage)
	if _, err = osFile.ReadAt(image[:sizeOfHeaders], 0); err != nil {
		err = fmt.Errorf("error when reading the PE headers: %w", err)
		return
	}
	for _, section := range f.Sections {
		if section.Offset == 0 {
			// Only exists in memory.
			continue
		}
		data, derr := section.Data()
		if derr != nil {
			err = fmt.Errorf("error when reading section %s: %w", section.Name, derr)
			return
		}
		va := uint64(section.VirtualAddress)
		if va >= uint64(sizeOfImage) {
			continue
		}
		copy(image[va:], data)
	}

	peF = &peFile{image: image, file: f, osFile: osFile}
	return
}

var _ symbolSource = (*peFile)(nil)

type peFile struct {
	image  peImage
	file   *pe.File
	osFile *os.File
}

func (p *peFile) Close() error {
	if p.file == nil {
		return nil
	}
	if err := p.file.Close(); err != nil {
		return err
	}
	return p.osFile.Close()
}

// symbols walks the export directory of the mapped image and returns the
// exported names. A module without an export table is an error, not an
// empty result.
func (p *peFile) symbols(dm DemangleFunc) ([]string, error) {
	m := p.image

	sig, err := m.u16(0)
	if err != nil || sig != dosSignature {
		return nil, fmt.Errorf("%w: invalid DOS signature", ErrMalformedPE)
	}
	ntOffset, err := m.u32(dosHeaderExtOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: header extension offset out of bounds", ErrMalformedPE)
	}
	sig32, err := m.u32(uint64(ntOffset))
	if err != nil || sig32 != ntSignature {
		return nil, fmt.Errorf("%w: invalid NT signature", ErrMalformedPE)
	}

	// The optional header follows the 4-byte signature and the 20-byte COFF
	// file header. Its magic decides where the data-directory table starts.
	// Offsets are widened before arithmetic so a pathological header
	// extension offset cannot wrap around to a low image offset.
	optOffset := uint64(ntOffset) + 24
	optMagic, err := m.u16(optOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: optional header out of bounds", ErrMalformedPE)
	}
	var dataDirOffset uint64
	switch optMagic {
	case optionalMagicPE32:
		dataDirOffset = dataDirOffsetPE32
	case optionalMagicPE32Plus:
		dataDirOffset = dataDirOffsetPE32Plus
	default:
		return nil, fmt.Errorf("%w: unknown optional header magic %#x", ErrMalformedPE, optMagic)
	}

	// First data-directory entry is the export directory.
	exportRVA, err := m.u32(optOffset + dataDirOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: data directory out of bounds", ErrMalformedPE)
	}
	if exportRVA == 0 {
		return nil, ErrNoExports
	}

	raw, err := m.view(uint64(exportRVA), exportDirectorySize)
	if err != nil {
		return nil, fmt.Errorf("%w: export directory out of bounds", ErrMalformedPE)
	}
	var dir exportDirectory
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &dir); err != nil {
		return nil, fmt.Errorf("error when reading the export directory: %w", err)
	}

	names, err := m.view(uint64(dir.AddressOfNames), uint64(dir.NumberOfNames)*4)
	if err != nil {
		return nil, fmt.Errorf("%w: export name table out of bounds", ErrMalformedPE)
	}

	col := newCollector(dm)
	for i := uint32(0); i < dir.NumberOfNames; i++ {
		nameRVA := binary.LittleEndian.Uint32(names[i*4:])
		// Unresolvable or empty names are skipped, not errors.
		col.add(m.cstring(nameRVA))
	}
	return col.result(), nil
}

// peImage is a bounds-checked view of a mapped PE module. Offsets are RVAs,
// relative to the module base at index 0.
type peImage []byte

func (m peImage) view(off, length uint64) ([]byte, error) {
	if off+length < off || off+length > uint64(len(m)) {
		return nil, ErrMalformedPE
	}
	return m[off : off+length], nil
}

func (m peImage) u16(off uint64) (uint16, error) {
	b, err := m.view(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m peImage) u32(off uint64) (uint32, error) {
	b, err := m.view(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m peImage) cstring(off uint32) string {
	return cstringAt(m, off)
}
