package rsl

import "fmt"

// Cause is the GSM 08.58 §9.3.26 cause value vocabulary used in
// NACKs, ERROR-REPORT and CONN-FAIL.
type Cause byte

const (
	CauseMandIEError           Cause = 0x30
	CauseIEContent             Cause = 0x31
	CauseServOptUnimpl         Cause = 0x32
	CauseEquipmentFail         Cause = 0x33
	CauseNormalUnspec          Cause = 0x34
	CauseRRUnavail             Cause = 0x35
	CauseFreqNotAvail          Cause = 0x36
	CauseProto                 Cause = 0x39
	CauseObjInstUnkn           Cause = 0x3A
	CauseTRXNRUnkn             Cause = 0x3B
	CauseSpecImplNotSupp       Cause = 0x3C
	CauseParamRange            Cause = 0x3D
	CauseAttrListInconsistent  Cause = 0x3E
	CauseServOptUnavail        Cause = 0x3F
	CauseRadioLinkFail         Cause = 0x40
)

func (c Cause) String() string {
	switch c {
	case CauseMandIEError:
		return "MAND_IE_ERROR"
	case CauseIEContent:
		return "IE_CONTENT"
	case CauseServOptUnimpl:
		return "SERV_OPT_UNIMPL"
	case CauseEquipmentFail:
		return "EQUIPMENT_FAIL"
	case CauseNormalUnspec:
		return "NORMAL_UNSPEC"
	case CauseRRUnavail:
		return "RR_UNAVAIL"
	case CauseFreqNotAvail:
		return "FREQ_NOTAVAIL"
	case CauseProto:
		return "PROTO"
	case CauseObjInstUnkn:
		return "OBJINST_UNKN"
	case CauseTRXNRUnkn:
		return "TRXNR_UNKN"
	case CauseSpecImplNotSupp:
		return "SPEC_IMPL_NOTSUPP"
	case CauseParamRange:
		return "PARAM_RANGE"
	case CauseAttrListInconsistent:
		return "ATTRLIST_INCONSISTENT"
	case CauseServOptUnavail:
		return "SERV_OPT_UNAVAIL"
	case CauseRadioLinkFail:
		return "RADIO_LINK_FAIL"
	default:
		return fmt.Sprintf("cause(0x%02x)", byte(c))
	}
}

// CauseError pairs a cause code with a descriptive message.
type CauseError struct {
	Cause Cause
	Msg   string
}

func (e *CauseError) Error() string { return fmt.Sprintf("rsl: %s: %s", e.Cause, e.Msg) }

// NewCauseError builds a CauseError.
func NewCauseError(c Cause, format string, v ...interface{}) *CauseError {
	return &CauseError{Cause: c, Msg: fmt.Sprintf(format, v...)}
}
