package sched

import (
	"testing"

	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/clog"
	"github.com/rob-gra/osmo-bts-go/gsmtime"
)

type countingFiller struct {
	calls int
}

func (f *countingFiller) Fill(meta FillMeta) ([]byte, error) {
	f.calls++
	return []byte{byte(meta.FN)}, nil
}

func newTestBTS(t *testing.T) *btsmodel.BTS {
	t.Helper()
	b, err := btsmodel.NewBTS(btsmodel.Identity{BSIC: 7}, 1)
	if err != nil {
		t.Fatalf("NewBTS: %v", err)
	}
	ts, err := b.TRX[0].TSAt(0)
	if err != nil {
		t.Fatalf("TSAt: %v", err)
	}
	ts.MFIndex = MFIdxCCCHOnly
	return b
}

func TestDispatchIdempotentOnReplayedRTS(t *testing.T) {
	b := newTestBTS(t)
	filler := &countingFiller{}
	s := New(clog.NewLogger("test"), b, filler, nil, nil)
	idx := btsmodel.Index{TRX: 0, TS: 0}

	out1, err := s.Dispatch(idx, 2)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	out2, err := s.Dispatch(idx, 2)
	if err != nil {
		t.Fatalf("Dispatch replay: %v", err)
	}
	if string(out1) != string(out2) {
		t.Fatalf("replayed dispatch produced different output: %v vs %v", out1, out2)
	}
	if filler.calls != 1 {
		t.Fatalf("filler invoked %d times, want 1 (replay must not re-invoke)", filler.calls)
	}
}

func TestDispatchRejectsOverrun(t *testing.T) {
	b := newTestBTS(t)
	filler := &countingFiller{}
	s := New(clog.NewLogger("test"), b, filler, nil, nil)
	idx := btsmodel.Index{TRX: 0, TS: 0}
	s.AdvanceClock(100)

	if _, err := s.Dispatch(idx, 50); err != ErrOverrun {
		t.Fatalf("got err=%v, want ErrOverrun", err)
	}
}

func TestDispatchUplinkDedupesSameFN(t *testing.T) {
	b := newTestBTS(t)
	filler := &countingFiller{}
	s := New(clog.NewLogger("test"), b, filler, nil, nil)
	idx := btsmodel.Index{TRX: 0, TS: 0}

	isNew1, _, err := s.DispatchUplink(idx, 5, []byte{1, 2, 3})
	if err != nil || !isNew1 {
		t.Fatalf("first delivery: isNew=%v err=%v, want true,nil", isNew1, err)
	}
	isNew2, _, err := s.DispatchUplink(idx, 5, []byte{1, 2, 3})
	if err != nil || isNew2 {
		t.Fatalf("replayed delivery: isNew=%v err=%v, want false,nil", isNew2, err)
	}
}

func TestDispatchUnknownChanNrIsNoChannel(t *testing.T) {
	b := newTestBTS(t)
	filler := &countingFiller{}
	s := New(clog.NewLogger("test"), b, filler, nil, nil)

	_, err := s.Dispatch(btsmodel.Index{TRX: 5, TS: 0}, 1)
	if err == nil {
		t.Fatal("expected error for unconfigured TRX")
	}
}

func TestAdvanceClockDetectsGap(t *testing.T) {
	b := newTestBTS(t)
	filler := &countingFiller{}
	var expired []gsmtime.FN
	s := New(clog.NewLogger("test"), b, filler, nil, func(fn gsmtime.FN) {
		expired = append(expired, fn)
	})
	s.AdvanceClock(10)
	s.AdvanceClock(13)
	if len(expired) != 2 || expired[0] != 11 || expired[1] != 12 {
		t.Fatalf("expired = %v, want [11 12]", expired)
	}
}
