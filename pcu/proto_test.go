package pcu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderLayout(t *testing.T) {
	raw := TimeInd{FN: 0x01020304}.Encode(2)
	require.Equal(t, byte(MsgTimeInd), raw[0])
	require.Equal(t, byte(2), raw[1])
	// padding stays zero
	require.Equal(t, byte(0), raw[2])
	require.Equal(t, byte(0), raw[3])

	h, err := decodeHeader(raw)
	require.NoError(t, err)
	require.Equal(t, MsgTimeInd, h.MsgType)
	require.Equal(t, uint8(2), h.BTSNr)
}

func TestInfoIndRoundTrip(t *testing.T) {
	in := InfoInd{
		Version: Version,
		Flags:   0xDEAD,
		LAC:     0x2342,
		RAC:     3,
		CI:      0x1234,
		BSIC:    7,
		NSEI:    101,
		NSVCI:   102,
		BVCI:    2,
	}
	in.PDCHMask[0] = 0xC0 // TS 6+7 of TRX 0

	out, err := DecodeInfoInd(in.Encode(0))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDataIndRoundTrip(t *testing.T) {
	in := DataInd{
		SAPI:    5,
		TRX:     0,
		TS:      7,
		FN:      42,
		ARFCN:   871,
		RSSI:    -70,
		Ber10k:  120,
		TA256:   -256,
		LQualCB: 150,
		Data:    []byte{0x2D, 0x06, 0x3F},
	}
	out, err := DecodeDataInd(in.Encode(0))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDataReqRoundTrip(t *testing.T) {
	in := DataReq{SAPI: 5, TRX: 1, TS: 6, FN: 1000, Data: []byte{1, 2, 3, 4}}
	out, err := DecodeDataReq(in.Encode(0))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestRachIndRoundTrip(t *testing.T) {
	in := RachInd{SAPI: 1, RA: 0x7F, FN: 42, ARFCN: 10, QTA: -4, Is11Bit: 1, BurstType: 2, TRX: 0, TS: 0}
	out, err := DecodeRachInd(in.Encode(0))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

// CONTAINER carries a 16-bit length in network byte order.
func TestContainerLengthIsBigEndian(t *testing.T) {
	payload := make([]byte, 0x0102)
	raw := Container{StreamID: 9, Payload: payload}.Encode(0)
	require.Equal(t, byte(0x01), raw[headerLen+1])
	require.Equal(t, byte(0x02), raw[headerLen+2])

	out, err := DecodeContainer(raw)
	require.NoError(t, err)
	require.Equal(t, uint8(9), out.StreamID)
	require.Len(t, out.Payload, 0x0102)
}

func TestContainerTruncatedLength(t *testing.T) {
	raw := Container{Payload: []byte{1, 2, 3}}.Encode(0)
	raw[headerLen+2] = 0xFF // claim more than the datagram holds
	_, err := DecodeContainer(raw)
	require.Error(t, err)
}

func TestTxtIndRoundTrip(t *testing.T) {
	raw := TxtInd{Type: TxtVersion, Text: "11"}.Encode(0)
	out, err := DecodeTxtInd(raw)
	require.NoError(t, err)
	require.Equal(t, TxtVersion, out.Type)
	require.Equal(t, "11", out.Text)
}

func TestDecodeTooShort(t *testing.T) {
	_, err := decodeHeader([]byte{0x00})
	require.Error(t, err)
	_, err = DecodeInfoInd(make([]byte, 5))
	require.Error(t, err)
	_, err = DecodeActReq(make([]byte, headerLen))
	require.Error(t, err)
}
