package remote

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/darshan-rambhia/leafsync/internal/model"
)

// Field numbers of the collection service messages.
const (
	tokenReqClientID   protowire.Number = 1
	tokenReqType       protowire.Number = 2
	tokenReqNeedScript protowire.Number = 3

	tokenRespAccessToken   protowire.Number = 1
	tokenRespExpiresIn     protowire.Number = 2
	tokenRespStatus        protowire.Number = 3
	tokenRespStatusMessage protowire.Number = 4

	dataReqAccessToken  protowire.Number = 1
	dataReqType         protowire.Number = 2
	dataReqValue        protowire.Number = 3
	dataReqValueOut     protowire.Number = 4
	dataReqValueCurrent protowire.Number = 5
	dataReqTimestamp    protowire.Number = 6
	dataReqClientID     protowire.Number = 7

	dataRespStatus        protowire.Number = 1
	dataRespStatusMessage protowire.Number = 2
)

// TokenRequest asks the collection service for an access token.
type TokenRequest struct {
	ClientID   string
	Type       model.SensorType
	NeedScript *bool
}

// TokenResponse carries a token or a rejection. ExpiresIn is in seconds;
// zero means the service gave no lifetime hint.
type TokenResponse struct {
	AccessToken   string
	ExpiresIn     uint32
	Status        int32
	StatusMessage *string
}

// SensorDataRequest submits one reading. Timestamp is nanoseconds since the
// Unix epoch and is only set for backfilled readings.
type SensorDataRequest struct {
	AccessToken  string
	Type         model.SensorType
	Value        float64
	ValueOut     *float64
	ValueCurrent *float64
	Timestamp    *uint64
	ClientID     string
}

// SensorDataResponse acknowledges or rejects a submission.
type SensorDataResponse struct {
	Status        int32
	StatusMessage *string
}

func (m *TokenRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, tokenReqClientID, m.ClientID)
	b = appendEnum(b, tokenReqType, m.Type)
	if m.NeedScript != nil {
		b = protowire.AppendTag(b, tokenReqNeedScript, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(*m.NeedScript))
	}
	return b
}

func (m *TokenRequest) Unmarshal(b []byte) error {
	*m = TokenRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == tokenReqClientID && typ == protowire.BytesType:
			return consumeString(b, &m.ClientID)
		case num == tokenReqType && typ == protowire.VarintType:
			return consumeEnum(b, &m.Type)
		case num == tokenReqNeedScript && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n > 0 {
				need := protowire.DecodeBool(v)
				m.NeedScript = &need
			}
			return n
		}
		return 0
	})
}

func (m *TokenResponse) Marshal() []byte {
	var b []byte
	b = appendString(b, tokenRespAccessToken, m.AccessToken)
	if m.ExpiresIn != 0 {
		b = protowire.AppendTag(b, tokenRespExpiresIn, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ExpiresIn))
	}
	b = appendInt32(b, tokenRespStatus, m.Status)
	if m.StatusMessage != nil {
		b = protowire.AppendTag(b, tokenRespStatusMessage, protowire.BytesType)
		b = protowire.AppendString(b, *m.StatusMessage)
	}
	return b
}

func (m *TokenResponse) Unmarshal(b []byte) error {
	*m = TokenResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == tokenRespAccessToken && typ == protowire.BytesType:
			return consumeString(b, &m.AccessToken)
		case num == tokenRespExpiresIn && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.ExpiresIn = uint32(v)
			return n
		case num == tokenRespStatus && typ == protowire.VarintType:
			return consumeInt32(b, &m.Status)
		case num == tokenRespStatusMessage && typ == protowire.BytesType:
			return consumeOptionalString(b, &m.StatusMessage)
		}
		return 0
	})
}

func (m *SensorDataRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, dataReqAccessToken, m.AccessToken)
	b = appendEnum(b, dataReqType, m.Type)
	if m.Value != 0 {
		b = appendDouble(b, dataReqValue, m.Value)
	}
	if m.ValueOut != nil {
		b = appendDouble(b, dataReqValueOut, *m.ValueOut)
	}
	if m.ValueCurrent != nil {
		b = appendDouble(b, dataReqValueCurrent, *m.ValueCurrent)
	}
	if m.Timestamp != nil {
		b = protowire.AppendTag(b, dataReqTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.Timestamp)
	}
	b = appendString(b, dataReqClientID, m.ClientID)
	return b
}

func (m *SensorDataRequest) Unmarshal(b []byte) error {
	*m = SensorDataRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == dataReqAccessToken && typ == protowire.BytesType:
			return consumeString(b, &m.AccessToken)
		case num == dataReqType && typ == protowire.VarintType:
			return consumeEnum(b, &m.Type)
		case num == dataReqValue && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			m.Value = math.Float64frombits(v)
			return n
		case num == dataReqValueOut && typ == protowire.Fixed64Type:
			return consumeOptionalDouble(b, &m.ValueOut)
		case num == dataReqValueCurrent && typ == protowire.Fixed64Type:
			return consumeOptionalDouble(b, &m.ValueCurrent)
		case num == dataReqTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n > 0 {
				m.Timestamp = &v
			}
			return n
		case num == dataReqClientID && typ == protowire.BytesType:
			return consumeString(b, &m.ClientID)
		}
		return 0
	})
}

func (m *SensorDataResponse) Marshal() []byte {
	var b []byte
	b = appendInt32(b, dataRespStatus, m.Status)
	if m.StatusMessage != nil {
		b = protowire.AppendTag(b, dataRespStatusMessage, protowire.BytesType)
		b = protowire.AppendString(b, *m.StatusMessage)
	}
	return b
}

func (m *SensorDataResponse) Unmarshal(b []byte) error {
	*m = SensorDataResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == dataRespStatus && typ == protowire.VarintType:
			return consumeInt32(b, &m.Status)
		case num == dataRespStatusMessage && typ == protowire.BytesType:
			return consumeOptionalString(b, &m.StatusMessage)
		}
		return 0
	})
}

func (m *TokenResponse) status() int32      { return m.Status }
func (m *SensorDataResponse) status() int32 { return m.Status }

// consumeFields walks the fields of a message. fn returns the number of
// bytes it consumed for a known field, 0 to skip the field, or a negative
// protowire error code.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decoding tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		n = fn(num, typ, b)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("decoding field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

// Scalar fields follow proto3 rules: zero values are not written.

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendEnum(b []byte, num protowire.Number, v model.SensorType) []byte {
	return appendInt32(b, num, int32(v))
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func consumeString(b []byte, dst *string) int {
	v, n := protowire.ConsumeString(b)
	if n > 0 {
		*dst = v
	}
	return n
}

func consumeOptionalString(b []byte, dst **string) int {
	v, n := protowire.ConsumeString(b)
	if n > 0 {
		*dst = &v
	}
	return n
}

func consumeInt32(b []byte, dst *int32) int {
	v, n := protowire.ConsumeVarint(b)
	if n > 0 {
		*dst = int32(v)
	}
	return n
}

func consumeEnum(b []byte, dst *model.SensorType) int {
	var v int32
	n := consumeInt32(b, &v)
	*dst = model.SensorType(v)
	return n
}

func consumeOptionalDouble(b []byte, dst **float64) int {
	v, n := protowire.ConsumeFixed64(b)
	if n > 0 {
		f := math.Float64frombits(v)
		*dst = &f
	}
	return n
}
