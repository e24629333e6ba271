package btsmodel

import "fmt"

// SIType enumerates the system information message types the BTS
// buffers. SI2quater is multi-instance (indexed 0..SI2QuaterMaxNum-1)
// and is stored separately.
type SIType int

const (
	SI1 SIType = iota
	SI2
	SI2bis
	SI2ter
	SI3
	SI4
	SI5
	SI5bis
	SI5ter
	SI6
	SI10
	SI13
	siTypeCount
)

// SIBlockLen is the fixed MAC block size every SI buffer carries: 23
// octets, 184 bits plus channel coding on the air interface.
const SIBlockLen = 23

// SI2QuaterMaxNum bounds the number of SI2quater instances; the index
// and count fields are 4 bits on the wire, giving at most 16.
const SI2QuaterMaxNum = 16

// SIBuffer is one system-information slot: a fixed block plus validity.
type SIBuffer struct {
	Valid bool
	Block [SIBlockLen]byte
}

// SISet is the BTS's full set of system-information buffers. It is
// treated as copy-on-write: an OML update to any SI produces a new
// *SISet which the BTS installs; scheduler reads always see whichever
// SISet was installed at the moment of the read, never a partial edit.
type SISet struct {
	Buf       [siTypeCount]SIBuffer
	Quater    [SI2QuaterMaxNum]SIBuffer
	QuaterCount int
}

// Clone returns a deep copy suitable for copy-on-write mutation.
func (s *SISet) Clone() *SISet {
	if s == nil {
		return &SISet{}
	}
	cp := *s
	return &cp
}

// Set installs the given 23-octet MAC block for a non-2quater SI type.
// It operates on the clone, not in place on a shared buffer (callers
// must Clone() first to preserve copy-on-write semantics).
func (s *SISet) Set(t SIType, block []byte) {
	var b [SIBlockLen]byte
	copy(b[:], block)
	s.Buf[t] = SIBuffer{Valid: true, Block: b}
}

// Clear marks a SI type absent.
func (s *SISet) Clear(t SIType) {
	s.Buf[t] = SIBuffer{}
}

// SetQuater installs SI2quater instance `index` of `count` total
// instances. Both must be at most SI2QuaterMaxNum, and index < count.
func (s *SISet) SetQuater(index, count int, block []byte) error {
	if count < 1 || count > SI2QuaterMaxNum || index < 0 || index >= count {
		return fmt.Errorf("SI2quater index=%d count=%d out of bounds (count<=%d, index<count)", index, count, SI2QuaterMaxNum)
	}
	var b [SIBlockLen]byte
	copy(b[:], block)
	s.Quater[index] = SIBuffer{Valid: true, Block: b}
	s.QuaterCount = count
	return nil
}
