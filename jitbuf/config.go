// Package jitbuf is the adaptive RTP jitter buffer: up to two per-SSRC
// subbuffers with an expected timestamp cadence, a HUNT/FLOWING state
// machine with high-watermark thinning, and a HANDOVER path that
// drains the old stream before switching SSRC. The configuration is
// copied in at construction; no caller-owned memory is retained.
package jitbuf

import "errors"

const (
	BdStartMin = 1
	BdStartMax = 64

	BdHiwatMin = 2
	BdHiwatMax = 256

	ThinningIntMin = 2
	ThinningIntMax = 1024
)

// Config tunes one jitter buffer instance. All depths are in quanta.
type Config struct {
	// QuantumMs is the expected timestamp cadence Q in milliseconds
	// (20 for standard GSM speech framing).
	QuantumMs int

	// TsUnitsPerQuantum is Q expressed in RTP timestamp units (160 for
	// 8 kHz narrowband speech at 20 ms).
	TsUnitsPerQuantum uint32

	// BdStart is the fill depth at which HUNT transitions to FLOWING.
	BdStart int

	// BdHiwat is the depth above which thinning starts.
	BdHiwat int

	// ThinningInt drops one quantum every this many polls while above
	// the high watermark.
	ThinningInt int

	// StartMinDeltaMs/StartMaxDeltaMs bound the inter-arrival delta
	// accepted for the HUNT->FLOWING transition.
	StartMinDeltaMs int
	StartMaxDeltaMs int

	// MaxFutureSec rejects timestamps further than this into the
	// future, triggering a handover restart instead.
	MaxFutureSec int
}

// Valid fills defaults and range-checks, mutating in place.
func (c *Config) Valid() error {
	if c == nil {
		return errors.New("jitbuf: nil config")
	}
	if c.QuantumMs == 0 {
		c.QuantumMs = 20
	} else if c.QuantumMs < 1 || c.QuantumMs > 1000 {
		return errors.New("jitbuf: QuantumMs out of range")
	}
	if c.TsUnitsPerQuantum == 0 {
		c.TsUnitsPerQuantum = 160
	}
	if c.BdStart == 0 {
		c.BdStart = 2
	} else if c.BdStart < BdStartMin || c.BdStart > BdStartMax {
		return errors.New("jitbuf: BdStart out of range")
	}
	if c.BdHiwat == 0 {
		c.BdHiwat = 8
	} else if c.BdHiwat < BdHiwatMin || c.BdHiwat > BdHiwatMax {
		return errors.New("jitbuf: BdHiwat out of range")
	}
	if c.BdHiwat < c.BdStart {
		return errors.New("jitbuf: BdHiwat must be >= BdStart")
	}
	if c.ThinningInt == 0 {
		c.ThinningInt = 17
	} else if c.ThinningInt < ThinningIntMin || c.ThinningInt > ThinningIntMax {
		return errors.New("jitbuf: ThinningInt out of range")
	}
	if c.StartMinDeltaMs == 0 {
		c.StartMinDeltaMs = 1
	}
	if c.StartMaxDeltaMs == 0 {
		c.StartMaxDeltaMs = c.QuantumMs * 2
	}
	if c.StartMaxDeltaMs < c.StartMinDeltaMs {
		return errors.New("jitbuf: StartMaxDeltaMs must be >= StartMinDeltaMs")
	}
	if c.MaxFutureSec == 0 {
		c.MaxFutureSec = 10
	}
	return nil
}

// DefaultConfig returns the defaulted configuration.
func DefaultConfig() Config {
	c := Config{}
	_ = c.Valid()
	return c
}
