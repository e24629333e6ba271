package paging

// CBCHPageLen is the fixed size of one SMSCB page.
const CBCHPageLen = 22

// CBCHChannel selects the basic or extended CBCH channel.
type CBCHChannel uint8

const (
	CBCHBasic CBCHChannel = iota
	CBCHExtended
)

// CBCH holds the two SMSCB page queues (basic and extended) and emits a
// load indication once either queue's depth crosses the configured
// high-water level.
type CBCH struct {
	cfg   Config
	basic [][CBCHPageLen]byte
	ext   [][CBCHPageLen]byte
}

// NewCBCH creates a CBCH scheduler from the given config.
func NewCBCH(cfg Config) *CBCH {
	return &CBCH{cfg: cfg}
}

// Enqueue appends one page to the given channel's queue.
func (c *CBCH) Enqueue(ch CBCHChannel, page []byte) {
	var p [CBCHPageLen]byte
	copy(p[:], page)
	switch ch {
	case CBCHExtended:
		c.ext = append(c.ext, p)
	default:
		c.basic = append(c.basic, p)
	}
}

// Dequeue pops the next page for the given channel, one page per CBCH
// block.
func (c *CBCH) Dequeue(ch CBCHChannel) (page []byte, ok bool) {
	switch ch {
	case CBCHExtended:
		if len(c.ext) == 0 {
			return nil, false
		}
		p := c.ext[0]
		c.ext = c.ext[1:]
		return p[:], true
	default:
		if len(c.basic) == 0 {
			return nil, false
		}
		p := c.basic[0]
		c.basic = c.basic[1:]
		return p[:], true
	}
}

// LoadLevel reports whether the given channel's queue depth has crossed
// the low or high configured level, for the BSC load indication.
func (c *CBCH) LoadLevel(ch CBCHChannel) (depth int, low, high bool) {
	switch ch {
	case CBCHExtended:
		depth = len(c.ext)
	default:
		depth = len(c.basic)
	}
	return depth, depth >= c.cfg.CBCHLoadLow, depth >= c.cfg.CBCHLoadHigh
}
