// Copyright 2024 The modsym Authors. All rights reserved.
// Use of this source code is governed by the license that
// can be found in the LICENSE file.

package modsym

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixed layout used by the synthetic module images in the tests below.
const (
	testNTOffset   = 0x80
	testExportRVA  = 0x200
	testNamesRVA   = 0x240
	testFuncsRVA   = 0x300
	testOrdsRVA    = 0x340
	testStringsRVA = 0x400
)

// buildPEImage lays out a minimal mapped PE module exporting the given
// names. A nil slice for exports leaves the export-directory RVA zero.
func buildPEImage(t *testing.T, names []string) []byte {
	t.Helper()

	size := testStringsRVA + 16
	for _, n := range names {
		size += len(n) + 1
	}
	image := make([]byte, size)
	le := binary.LittleEndian

	le.PutUint16(image[0:], dosSignature)
	le.PutUint32(image[dosHeaderExtOffset:], testNTOffset)
	le.PutUint32(image[testNTOffset:], ntSignature)
	le.PutUint16(image[testNTOffset+24:], optionalMagicPE32)
	if names == nil {
		return image
	}
	le.PutUint32(image[testNTOffset+24+dataDirOffsetPE32:], testExportRVA)

	dir := image[testExportRVA:]
	le.PutUint32(dir[20:], uint32(len(names))) // NumberOfFunctions
	le.PutUint32(dir[24:], uint32(len(names))) // NumberOfNames
	le.PutUint32(dir[28:], testFuncsRVA)
	le.PutUint32(dir[32:], testNamesRVA)
	le.PutUint32(dir[36:], testOrdsRVA)

	strOff := uint32(testStringsRVA)
	for i, n := range names {
		le.PutUint32(image[testNamesRVA+4*i:], strOff)
		copy(image[strOff:], n)
		strOff += uint32(len(n)) + 1
	}
	return image
}

// buildPEFile lays out a minimal on-disk PE32 file with one .edata section
// holding the export data, parseable by debug/pe.
func buildPEFile(t *testing.T, names []string) []byte {
	t.Helper()

	const (
		ntOffset   = 0x80
		optSize    = 224
		edataRVA   = 0x1000
		edataRaw   = 0x400
		edataSize  = 0x200
		imageSize  = 0x2000
		headerSize = 0x400
	)
	le := binary.LittleEndian
	file := make([]byte, edataRaw+edataSize)

	// DOS header.
	le.PutUint16(file[0:], dosSignature)
	le.PutUint32(file[dosHeaderExtOffset:], ntOffset)

	// NT signature and COFF file header.
	le.PutUint32(file[ntOffset:], ntSignature)
	coff := file[ntOffset+4:]
	le.PutUint16(coff[0:], 0x14c) // IMAGE_FILE_MACHINE_I386
	le.PutUint16(coff[2:], 1)     // NumberOfSections
	le.PutUint16(coff[16:], optSize)
	le.PutUint16(coff[18:], 0x2102) // EXECUTABLE_IMAGE | DLL | 32BIT_MACHINE

	// Optional header.
	opt := file[ntOffset+24:]
	le.PutUint16(opt[0:], optionalMagicPE32)
	le.PutUint32(opt[28:], 0x400000) // ImageBase
	le.PutUint32(opt[32:], 0x1000)   // SectionAlignment
	le.PutUint32(opt[36:], 0x200)    // FileAlignment
	le.PutUint32(opt[56:], imageSize)
	le.PutUint32(opt[60:], headerSize)
	le.PutUint32(opt[92:], 16) // NumberOfRvaAndSizes
	le.PutUint32(opt[dataDirOffsetPE32:], edataRVA)
	le.PutUint32(opt[dataDirOffsetPE32+4:], edataSize)

	// Section table.
	sect := file[ntOffset+24+optSize:]
	copy(sect[0:], ".edata")
	le.PutUint32(sect[8:], edataSize)  // VirtualSize
	le.PutUint32(sect[12:], edataRVA)  // VirtualAddress
	le.PutUint32(sect[16:], edataSize) // SizeOfRawData
	le.PutUint32(sect[20:], edataRaw)  // PointerToRawData

	// Export data. RVAs are relative to the image base, the section maps
	// at edataRVA.
	edata := file[edataRaw:]
	const (
		funcsRVA = edataRVA + 0x40
		namesRVA = edataRVA + 0x50
		ordsRVA  = edataRVA + 0x60
		strsRVA  = edataRVA + 0x70
	)
	le.PutUint32(edata[20:], uint32(len(names))) // NumberOfFunctions
	le.PutUint32(edata[24:], uint32(len(names))) // NumberOfNames
	le.PutUint32(edata[28:], funcsRVA)
	le.PutUint32(edata[32:], namesRVA)
	le.PutUint32(edata[36:], ordsRVA)

	strOff := uint32(strsRVA)
	for i, n := range names {
		le.PutUint32(edata[namesRVA-edataRVA+4*i:], strOff)
		copy(edata[strOff-edataRVA:], n)
		strOff += uint32(len(n)) + 1
	}
	return file
}

func TestOpenPEOnDiskFile(t *testing.T) {
	path := writeTempFile(t, "demo.dll", buildPEFile(t, []string{"alpha", "beta"}))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	syms, err := f.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, syms,
		"the mapped image reconstructed from the file must resolve RVAs")
}

func TestOpenPEOnDiskFileDemangled(t *testing.T) {
	path := writeTempFile(t, "tools.dll", buildPEFile(t, []string{"_Z5adderdd", "plain"}))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	syms, err := f.DemangledSymbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"adder(double, double)", "plain"}, syms)
}

func TestPEExportedNames(t *testing.T) {
	f := NewPEImage(buildPEImage(t, []string{"beta", "alpha", "gamma"}))

	syms, err := f.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "alpha", "gamma"}, syms,
		"insertion order must be discovery order")
}

func TestPEDeterminism(t *testing.T) {
	f := NewPEImage(buildPEImage(t, []string{"one", "two"}))

	first, err := f.Symbols()
	require.NoError(t, err)
	second, err := f.Symbols()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPESkipsEmptyNames(t *testing.T) {
	image := buildPEImage(t, []string{"kept", "x"})
	// Point the second name entry at a zero byte.
	binary.LittleEndian.PutUint32(image[testNamesRVA+4:], testStringsRVA-1)

	f := NewPEImage(image)
	syms, err := f.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, syms)
}

func TestPESkipsOutOfBoundsName(t *testing.T) {
	image := buildPEImage(t, []string{"kept", "x"})
	binary.LittleEndian.PutUint32(image[testNamesRVA+4:], uint32(len(image)+100))

	f := NewPEImage(image)
	syms, err := f.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, syms,
		"a name pointer outside the image is a per-symbol anomaly, not an error")
}

func TestPEDropsDuplicateNames(t *testing.T) {
	f := NewPEImage(buildPEImage(t, []string{"dup", "other", "dup"}))

	syms, err := f.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"dup", "other"}, syms)
}

func TestPEDemanglePolicy(t *testing.T) {
	f := NewPEImage(buildPEImage(t, []string{"_Z5adderdd", "plain"}))

	syms, err := f.SymbolsWith(func(name string) string {
		if name == "_Z5adderdd" {
			return "adder(double, double)"
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"adder(double, double)", "plain"}, syms)
}

func TestPENoExportDirectory(t *testing.T) {
	f := NewPEImage(buildPEImage(t, nil))

	_, err := f.Symbols()
	assert.ErrorIs(t, err, ErrNoExports,
		"a zero export-directory RVA is an error, never an empty success")
}

func TestPEInvalidDOSSignature(t *testing.T) {
	image := buildPEImage(t, []string{"foo"})
	image[0] = 0

	_, err := NewPEImage(image).Symbols()
	assert.ErrorIs(t, err, ErrMalformedPE)
}

func TestPEInvalidNTSignature(t *testing.T) {
	image := buildPEImage(t, []string{"foo"})
	binary.LittleEndian.PutUint32(image[testNTOffset:], 0xdeadbeef)

	_, err := NewPEImage(image).Symbols()
	assert.ErrorIs(t, err, ErrMalformedPE)
}

func TestPENameTableOutOfBounds(t *testing.T) {
	image := buildPEImage(t, []string{"foo"})
	// Claim far more names than the image can hold.
	binary.LittleEndian.PutUint32(image[testExportRVA+24:], 1<<20)

	_, err := NewPEImage(image).Symbols()
	assert.ErrorIs(t, err, ErrMalformedPE)
}

func TestPETruncatedImage(t *testing.T) {
	_, err := NewPEImage([]byte{0x4d}).Symbols()
	assert.ErrorIs(t, err, ErrMalformedPE)
}

func TestPEHeaderExtensionOffsetNearMax(t *testing.T) {
	image := buildPEImage(t, []string{"foo"})
	// An e_lfanew close to the top of the uint32 range must fail the
	// bounds check instead of wrapping around.
	binary.LittleEndian.PutUint32(image[dosHeaderExtOffset:], 0xffffffe8)

	_, err := NewPEImage(image).Symbols()
	assert.ErrorIs(t, err, ErrMalformedPE)
}
