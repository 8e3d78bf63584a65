package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTemplate(t *testing.T) {
	s := &ICMPScanner{}
	s.buildTemplate()

	require.Len(t, s.template, 8)
	assert.Equal(t, byte(8), s.template[0], "type must be echo request")
	assert.Equal(t, byte(0), s.template[1], "code must be zero")

	// A valid ICMP checksum makes the checksum of the whole packet zero.
	assert.Equal(t, uint16(0), s.calculateChecksum(s.template))
}

func TestCalculateChecksum(t *testing.T) {
	s := &ICMPScanner{}

	// Echo request header with zeroed checksum field.
	packet := []byte{8, 0, 0, 0, 0x12, 0x34, 0, 1}

	sum := s.calculateChecksum(packet)
	assert.NotZero(t, sum)

	// Inserting the computed checksum must validate the packet.
	packet[2] = byte(sum >> 8)
	packet[3] = byte(sum & 0xff)

	assert.Equal(t, uint16(0), s.calculateChecksum(packet))
}
