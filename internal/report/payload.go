package report

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"codeberg.org/mutker/thermobeacon/internal/errors"
)

// PayloadSize is the encoded size of a Payload in bytes.
const PayloadSize = 9

// Payload is the manufacturer-specific data broadcast after each report.
// Fields are little-endian in declaration order with no padding.
type Payload struct {
	CompanyID uint16
	GroupID   uint8
	// Temperatures in hundredths of a degree Celsius.
	MeanCenti   int16
	LatestCenti int16
	SupplyMV    int16
}

// NewPayload scales a summary into payload units. A value that does not fit
// an int16 is an encoding error rather than being clamped.
func NewPayload(companyID uint16, groupID uint8, s Summary) (Payload, error) {
	p := Payload{CompanyID: companyID, GroupID: groupID}

	var err error
	if p.MeanCenti, err = toInt16("mean", s.Mean*100); err != nil {
		return Payload{}, err
	}
	if p.LatestCenti, err = toInt16("latest", s.Latest.Celsius*100); err != nil {
		return Payload{}, err
	}
	if s.Latest.HasAux {
		if p.SupplyMV, err = toInt16("supply", s.Latest.AuxMV); err != nil {
			return Payload{}, err
		}
	}

	return p, nil
}

func toInt16(field string, v float64) (int16, error) {
	r := math.Round(v)
	if math.IsNaN(r) || r < math.MinInt16 || r > math.MaxInt16 {
		return 0, errors.New().WithData(ErrEncoding, fmt.Sprintf("%s=%v", field, v))
	}
	return int16(r), nil
}

func (p Payload) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, PayloadSize))
	if err := binary.Write(buf, binary.LittleEndian, p); err != nil {
		return nil, errors.New().Wrap(ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

func (p *Payload) UnmarshalBinary(b []byte) error {
	if len(b) < PayloadSize {
		return errors.New().WithData(ErrShortPayload, len(b))
	}
	return binary.Read(bytes.NewReader(b[:PayloadSize]), binary.LittleEndian, p)
}

// Mean returns the mean temperature in degrees Celsius.
func (p Payload) Mean() float64 {
	return float64(p.MeanCenti) / 100
}

// Latest returns the latest temperature in degrees Celsius.
func (p Payload) Latest() float64 {
	return float64(p.LatestCenti) / 100
}
