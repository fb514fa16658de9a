package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLe16_ReadsLittleEndianWord(t *testing.T) {
	buf := make([]byte, 4)
	buf[0], buf[1] = 0x34, 0x12
	assert.Equal(t, uint16(0x1234), le16(buf, 0))
}

func TestLe32_ReadsLittleEndianDoubleWord(t *testing.T) {
	buf := make([]byte, 8)
	buf[0], buf[1], buf[2], buf[3] = 0x78, 0x56, 0x34, 0x12
	assert.Equal(t, uint32(0x12345678), le32(buf, 0))
}

func TestTrimASCII_StripsLeadingAndTrailingSpacesAndNulls(t *testing.T) {
	assert.Equal(t, "ABC", trimASCII([]byte("  ABC   ")))
	assert.Equal(t, "ABC", trimASCII([]byte("ABC\x00\x00")))
	assert.Equal(t, "", trimASCII([]byte("    ")))
}

func TestSwappedASCII_ByteSwapsWordPairsThenTrims(t *testing.T) {
	// ATA strings store "AB" as word bytes [B, A]; swapping recovers "AB".
	in := []byte{'B', 'A', 'D', 'C', ' ', ' '}
	assert.Equal(t, "ABCD", swappedASCII(in))
}

func TestWord59Sanitize_ChecksLowBit(t *testing.T) {
	buf := make([]byte, 256)
	off := 59 * 2
	buf[off] = 0x01
	assert.True(t, word59Sanitize(buf))

	buf[off] = 0x00
	assert.False(t, word59Sanitize(buf))
}

func TestContainsASCII_FindsSubstring(t *testing.T) {
	assert.True(t, containsASCII([]byte("supports TRIM: yes"), "TRIM"))
	assert.False(t, containsASCII([]byte("supports TRIM: yes"), "WRITE"))
}

func setWord(buf []byte, word int, val uint16) {
	off := word * 2
	buf[off] = byte(val)
	buf[off+1] = byte(val >> 8)
}

func setDword(buf []byte, word int, val uint32) {
	off := word * 2
	buf[off] = byte(val)
	buf[off+1] = byte(val >> 8)
	buf[off+2] = byte(val >> 16)
	buf[off+3] = byte(val >> 24)
}

func setSwappedASCII(field []byte, offset int, s string) {
	padded := []byte(s)
	for len(padded) < len(field)-offset {
		padded = append(padded, ' ')
	}
	for i := 0; i+1 < len(padded) && offset+i+1 < len(field); i += 2 {
		field[offset+i] = padded[i+1]
		field[offset+i+1] = padded[i]
	}
}

func TestParseATAIdentify_ExtractsModelSerialFirmwareAndFlags(t *testing.T) {
	buf := make([]byte, 512)

	setSwappedASCII(buf[20:40], 0, "SN12345678901234567890")
	setSwappedASCII(buf[46:54], 0, "FW01")
	setSwappedASCII(buf[54:94], 0, "EXAMPLE SSD MODEL NAME")

	setWord(buf, 59, 0x01)   // sanitize supported
	setWord(buf, 69, 0x20)   // trim supported
	setWord(buf, 83, 0x02)   // secure erase supported
	setWord(buf, 86, 0x2000) // crypto erase supported
	setWord(buf, 128, 0x0A)  // security enabled (bit1) + frozen (bit3)
	setDword(buf, 100, 1000000)
	setDword(buf, 102, 0)

	id := parseATAIdentify(buf)

	assert.Contains(t, id.Serial, "SN1234")
	assert.Contains(t, id.Firmware, "FW01")
	assert.Contains(t, id.Model, "EXAMPLE")
	assert.True(t, id.SecurityEnabled)
	assert.True(t, id.SecurityFrozen)
	assert.True(t, id.SupportsSecureErase)
	assert.True(t, id.SupportsSanitize)
	assert.True(t, id.SupportsCryptoErase)
	assert.True(t, id.SupportsTrim)
	assert.Equal(t, uint64(1000000), id.LBACount)
	assert.Equal(t, uint32(512), id.LogicalSectorSize)
}

func TestParseATAIdentify_UsesExtendedLBACountWhenUpperWordsNonzero(t *testing.T) {
	buf := make([]byte, 512)
	setDword(buf, 100, 0xFFFFFFFF)
	setDword(buf, 102, 0x1)

	id := parseATAIdentify(buf)
	assert.Equal(t, uint64(0x1FFFFFFFF), id.LBACount)
}

func TestProtocolFromTransport_MapsKnownTransports(t *testing.T) {
	assert.Equal(t, ProtocolNVMe, ProtocolFromTransport("nvme"))
	assert.Equal(t, ProtocolSCSI, ProtocolFromTransport("scsi"))
	assert.Equal(t, ProtocolSCSI, ProtocolFromTransport("sas"))
	assert.Equal(t, ProtocolMMC, ProtocolFromTransport("mmc"))
	assert.Equal(t, ProtocolATA, ProtocolFromTransport("ata"))
	assert.Equal(t, ProtocolATA, ProtocolFromTransport("sata"))
	assert.Equal(t, ProtocolATA, ProtocolFromTransport("usb"))
	assert.Equal(t, ProtocolATA, ProtocolFromTransport("unknown"))
}
