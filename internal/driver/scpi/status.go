// internal/driver/scpi/status.go
package scpi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Identity is the parsed *IDN? reply
type Identity struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
}

// ParseIdentity splits an *IDN? reply. Missing fields stay empty.
func ParseIdentity(reply string) Identity {
	f := strings.SplitN(strings.TrimSpace(reply), ",", 4)
	for len(f) < 4 {
		f = append(f, "")
	}
	return Identity{
		Manufacturer: strings.TrimSpace(f[0]),
		Model:        strings.TrimSpace(f[1]),
		Serial:       strings.TrimSpace(f[2]),
		Firmware:     strings.TrimSpace(f[3]),
	}
}

// ParseNumber parses an SCPI numeric reply such as +1.20000E+01
func ParseNumber(reply string) (decimal.Decimal, error) {
	s := strings.TrimPrefix(strings.TrimSpace(reply), "+")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %q", reply)
	}
	return d, nil
}

// ParseBool parses 0/1 and OFF/ON replies
func ParseBool(reply string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(reply)) {
	case "1", "ON":
		return true, nil
	case "0", "OFF":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", reply)
}

// ParseRegister parses a status register condition
func ParseRegister(reply string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(reply), "+"), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("not a register value: %q", reply)
	}
	return uint16(v), nil
}

// QuestionableStatus decodes STAT:QUES:COND?
type QuestionableStatus struct {
	Raw         uint16 `json:"raw"`
	OverVoltage bool   `json:"over_voltage"`
	OverCurrent bool   `json:"over_current"`
	PowerFail   bool   `json:"power_fail"`
	OverTemp    bool   `json:"over_temperature"`
	Inhibited   bool   `json:"inhibited"`
	Unregulated bool   `json:"unregulated"`
}

// DecodeQuestionable splits the questionable condition register
func DecodeQuestionable(v uint16) QuestionableStatus {
	return QuestionableStatus{
		Raw:         v,
		OverVoltage: v&1 != 0,
		OverCurrent: v&2 != 0,
		PowerFail:   v&4 != 0,
		OverTemp:    v&16 != 0,
		Inhibited:   v&512 != 0,
		Unregulated: v&1024 != 0,
	}
}

// Tripped reports whether a protection disabled the output
func (s QuestionableStatus) Tripped() bool {
	return s.OverVoltage || s.OverCurrent || s.PowerFail || s.OverTemp || s.Inhibited
}

// OperationStatus decodes STAT:OPER:COND?
type OperationStatus struct {
	Raw               uint16 `json:"raw"`
	WaitingForTrigger bool   `json:"waiting_for_trigger"`
	ConstantVoltage   bool   `json:"constant_voltage"`
	ConstantCurrent   bool   `json:"constant_current"`
}

// DecodeOperation splits the operation condition register
func DecodeOperation(v uint16) OperationStatus {
	return OperationStatus{
		Raw:               v,
		WaitingForTrigger: v&32 != 0,
		ConstantVoltage:   v&256 != 0,
		ConstantCurrent:   v&1024 != 0,
	}
}
