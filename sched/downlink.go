package sched

import (
	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/paging"
)

// FillFrame is the GSM 04.08 §9.1.19 L2 fill frame transmitted when no
// downlink payload is pending for a block.
var FillFrame = []byte{0x03, 0x03, 0x01, 0x2B, 0x2B, 0x2B, 0x2B, 0x2B,
	0x2B, 0x2B, 0x2B, 0x2B, 0x2B, 0x2B, 0x2B, 0x2B, 0x2B, 0x2B, 0x2B,
	0x2B, 0x2B, 0x2B, 0x2B}

// Composer is the production Filler: for each RTS it
// resolves the per-channel-type downlink priority order — SI, paging,
// CBCH, SACCH, pending L2, fill — against the BTS's queues and buffers.
type Composer struct {
	bts  *btsmodel.BTS
	pq   *paging.Queue
	agch *paging.AGCH
	cbch *paging.CBCH

	// NumAGCHBlocks is BS-AG-BLKS-RES from SI3.
	NumAGCHBlocks int

	// PagingBlocks is the number of CCCH blocks used for paging per
	// 51-multiframe, deriving the FN -> paging group mapping.
	PagingBlocks int
}

// NewComposer builds the downlink composer over the BTS's common
// channel queues.
func NewComposer(bts *btsmodel.BTS, pq *paging.Queue, agch *paging.AGCH, cbch *paging.CBCH) *Composer {
	return &Composer{bts: bts, pq: pq, agch: agch, cbch: cbch, NumAGCHBlocks: 1, PagingBlocks: 8}
}

var _ Filler = (*Composer)(nil)

// bcchSITypeByTC is the SI scheduling over the BCCH TC cycle
// (GSM 05.02 §6.3.1.3: TC = (FN div 51) mod 8).
var bcchSITypeByTC = [8]btsmodel.SIType{
	btsmodel.SI1, btsmodel.SI2, btsmodel.SI3, btsmodel.SI4,
	btsmodel.SI2bis, btsmodel.SI2ter, btsmodel.SI3, btsmodel.SI4,
}

// siForTC picks the SI block scheduled at this TC, falling back to the
// next valid one when the scheduled type has not been received yet.
func (c *Composer) siForTC(tc uint32) []byte {
	si := c.bts.SI
	for probe := uint32(0); probe < 8; probe++ {
		t := bcchSITypeByTC[(tc+probe)%8]
		if si.Buf[t].Valid {
			return si.Buf[t].Block[:]
		}
	}
	return nil
}

// Fill resolves one burst-index-0 RTS into a downlink MAC block.
func (c *Composer) Fill(meta FillMeta) ([]byte, error) {
	switch meta.Chan {
	case btsmodel.ChanCCCH:
		return c.fillCCCH(meta.FN)
	case btsmodel.ChanCBCH:
		if page, ok := c.cbch.Dequeue(paging.CBCHBasic); ok {
			return padToBlock(page), nil
		}
		return FillFrame, nil
	case btsmodel.ChanSDCCH, btsmodel.ChanTCHFull, btsmodel.ChanTCHHalf:
		return c.fillDedicated(meta)
	case btsmodel.ChanSACCH:
		return c.fillSACCH(meta)
	default:
		return FillFrame, nil
	}
}

func (c *Composer) fillCCCH(fn uint32) ([]byte, error) {
	kind, blockIdx, err := Classify(fn, c.NumAGCHBlocks)
	if err != nil {
		return FillFrame, nil
	}
	switch kind {
	case KindFCCH, KindSCH:
		// composed by the PHY itself; nothing rides in the MAC block
		return nil, nil
	case KindBCCH:
		if si := c.siForTC((fn / 51) % 8); si != nil {
			return si, nil
		}
		return FillFrame, nil
	case KindAGCH:
		if block, ok := c.agch.Dequeue(); ok {
			return block, nil
		}
		return FillFrame, nil
	case KindPCH:
		return c.fillPCH(fn, blockIdx), nil
	default:
		return FillFrame, nil
	}
}

// fillPCH maps the frame number to its paging group and encodes the
// densest Paging Request that fits, or passes an Immediate Assignment
// through. While an ETWS primary notification is active, its next
// segment rides in the P1 rest octets of each Paging Request Type 1
// block, including the empty Type 1 sent when the group has nothing
// queued; Immediate Assignment and Type 2/3 blocks carry no segment.
func (c *Composer) fillPCH(fn uint32, blockIdx int) []byte {
	group := c.PagingGroupForFN(fn, blockIdx)
	gen, ok := c.pq.GenerateForFN(group)
	if !ok {
		if c.bts.ETWS.Active {
			return c.withETWSSegment(encodePagingRequest(paging.Generated{Type: paging.ReqType1}))
		}
		return FillFrame
	}
	if gen.IsIA {
		return gen.IAData
	}
	block := encodePagingRequest(gen)
	if c.bts.ETWS.Active && gen.Type == paging.ReqType1 {
		block = c.withETWSSegment(block)
	}
	return block
}

// etwsSegmentLen is how much of the primary notification one paging
// block's rest octets carry.
const etwsSegmentLen = 14

// withETWSSegment overwrites the block's trailing rest octets with the
// next segment of the active ETWS primary notification, advancing the
// segment cursor and wrapping so the broadcast repeats until stopped.
func (c *Composer) withETWSSegment(block []byte) []byte {
	etws := &c.bts.ETWS
	if len(etws.Message) == 0 {
		return block
	}
	if etws.Cursor >= len(etws.Message) {
		etws.Cursor = 0
	}
	seg := etws.Message[etws.Cursor:]
	if len(seg) > etwsSegmentLen {
		seg = seg[:etwsSegmentLen]
	}
	etws.Cursor += len(seg)

	out := append([]byte(nil), block...)
	copy(out[btsmodel.SIBlockLen-len(seg)-1:], seg)
	out[btsmodel.SIBlockLen-1] = byte(len(seg))
	return out
}

// PagingGroupForFN computes which paging group the PCH block at fn
// serves: the paging blocks of successive 51-multiframes rotate through
// the configured sub-channels (GSM 05.02 §6.5.3).
func (c *Composer) PagingGroupForFN(fn uint32, blockIdx int) int {
	subs := c.pq.GroupCount()
	if subs == 0 {
		return 0
	}
	pagingIdx := blockIdx - c.NumAGCHBlocks
	if pagingIdx < 0 {
		pagingIdx = 0
	}
	mframe := fn / 51
	return int((mframe*uint32(c.PagingBlocks) + uint32(pagingIdx)) % uint32(subs))
}

func (c *Composer) fillDedicated(meta FillMeta) ([]byte, error) {
	lchan, err := c.bts.Lookup(meta.Index)
	if err != nil {
		return nil, err
	}
	if lchan.State != btsmodel.StateActive || len(lchan.Pending) == 0 {
		return FillFrame, nil
	}
	next := lchan.Pending[0]
	lchan.Pending = lchan.Pending[1:]
	return padToBlock(next.Data), nil
}

// fillSACCH rotates through the lchan's SACCH SI buffers (SI5 family,
// SI6) so each is broadcast in turn.
func (c *Composer) fillSACCH(meta FillMeta) ([]byte, error) {
	lchan, err := c.bts.Lookup(meta.Index)
	if err != nil {
		return nil, err
	}
	if lchan.State != btsmodel.StateActive {
		return FillFrame, nil
	}
	var present [][]byte
	for _, b := range lchan.SACCHSI {
		if b != nil {
			present = append(present, b)
		}
	}
	if len(present) == 0 {
		return FillFrame, nil
	}
	slot := (meta.FN / 104) % uint32(len(present))
	return padToBlock(present[slot]), nil
}

// padToBlock brings a short L2 payload up to the 23-octet MAC block
// with 0x2B filler octets.
func padToBlock(b []byte) []byte {
	if len(b) >= btsmodel.SIBlockLen {
		return b[:btsmodel.SIBlockLen]
	}
	out := make([]byte, btsmodel.SIBlockLen)
	copy(out, b)
	for i := len(b); i < btsmodel.SIBlockLen; i++ {
		out[i] = 0x2B
	}
	return out
}

// RR message types for the Paging Request encodings (GSM 04.08 §9.1.22-24).
const (
	rrPagingRequest1 = 0x21
	rrPagingRequest2 = 0x22
	rrPagingRequest3 = 0x24
)

// encodePagingRequest builds the RR Paging Request MAC block for the
// generated record set: Type 1 (one or two identities), Type 2 (two
// TMSIs plus one other), Type 3 (four TMSIs).
func encodePagingRequest(gen paging.Generated) []byte {
	body := []byte{0x06} // RR protocol discriminator
	switch gen.Type {
	case paging.ReqType3:
		body = append(body, rrPagingRequest3)
		for _, id := range gen.Identities {
			body = appendTMSI(body, id.TMSI)
		}
	case paging.ReqType2:
		body = append(body, rrPagingRequest2)
		body = appendTMSI(body, gen.Identities[0].TMSI)
		body = appendTMSI(body, gen.Identities[1].TMSI)
		body = appendIdentity(body, gen.Identities[2])
	default:
		body = append(body, rrPagingRequest1)
		for _, id := range gen.Identities {
			body = appendIdentity(body, id)
		}
	}
	// L2 pseudo-length header ahead of the L3 body
	hdr := []byte{byte(len(body))<<2 | 0x01}
	return padToBlock(append(hdr, body...))
}

func appendTMSI(b []byte, tmsi uint32) []byte {
	return append(b, byte(tmsi>>24), byte(tmsi>>16), byte(tmsi>>8), byte(tmsi))
}

// appendIdentity writes an LV mobile identity: TMSI as 4 raw octets
// behind a type octet, IMSI as its digit string.
func appendIdentity(b []byte, id paging.Identity) []byte {
	if id.IsTMSI {
		b = append(b, 5, 0xF4)
		return appendTMSI(b, id.TMSI)
	}
	b = append(b, byte(len(id.IMSI)+1), 0x09)
	return append(b, id.IMSI...)
}
