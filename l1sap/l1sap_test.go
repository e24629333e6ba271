package l1sap

import (
	"testing"

	"github.com/rob-gra/osmo-bts-go/clog"
	"github.com/stretchr/testify/require"
)

type tapRecorder struct {
	taps [][]byte
}

func (t *tapRecorder) Tap(chanNr ChanNr, linkID LinkID, fn uint32, payload []byte) {
	t.taps = append(t.taps, payload)
}

type allowAll struct{}

func (allowAll) IsActiveChanNr(ChanNr) bool { return true }

type denyAll struct{}

func (denyAll) IsActiveChanNr(ChanNr) bool { return false }

func fillFrame() []byte {
	return []byte{0x03, 0x03, 0x01, 0x2B, 0x2B}
}

func TestPHRTSTapsRealFramesOnly(t *testing.T) {
	payloads := [][]byte{
		{0x01, 0x3F, 0x2D}, // real L2 frame
		fillFrame(),
		{0x05, 0x06, 0x21}, // real again
	}
	i := 0
	d := New(clog.NewLogger("t"), Handlers{
		OnPHRTS: func(ind PHRTSInd) (PHDataReq, error) {
			p := payloads[i]
			i++
			return PHDataReq{ChanNr: ind.ChanNr, FN: ind.FN, Payload: p}, nil
		},
	}, allowAll{})
	tap := &tapRecorder{}
	d.SetObserver(tap)

	for fn := uint32(0); fn < 3; fn++ {
		_, err := d.DeliverPHRTS(PHRTSInd{ChanNr: 0x09, FN: fn})
		require.NoError(t, err)
	}
	// the fill frame must be excluded from the tap
	require.Len(t, tap.taps, 2)
	require.Equal(t, payloads[0], tap.taps[0])
	require.Equal(t, payloads[2], tap.taps[1])
}

func TestValidateRejectsInactiveChanNr(t *testing.T) {
	d := New(clog.NewLogger("t"), Handlers{
		OnPHData: func(PHDataInd) error { return nil },
	}, denyAll{})
	err := d.DeliverPHData(PHDataInd{ChanNr: 0x09, FN: 1})
	require.Error(t, err)
}

func TestRachSkipsChanNrValidation(t *testing.T) {
	called := false
	d := New(clog.NewLogger("t"), Handlers{
		OnPHRach: func(PHRachInd) error { called = true; return nil },
	}, denyAll{})
	require.NoError(t, d.DeliverPHRach(PHRachInd{RA: 0x03, FN: 42}))
	require.True(t, called)
}

func TestMissingHandlerIsAnError(t *testing.T) {
	d := New(clog.NewLogger("t"), Handlers{}, allowAll{})
	_, err := d.DeliverPHRTS(PHRTSInd{ChanNr: 0x09})
	require.Error(t, err)
	require.Error(t, d.DeliverPHData(PHDataInd{ChanNr: 0x09}))
	// unsolicited MPH-INFO without a handler is silently ignored
	require.NoError(t, d.DeliverMPHInfoInd(MPHInfoInd{Type: MPHTime, FN: 1}))
}
