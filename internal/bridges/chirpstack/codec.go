package chirpstack

import (
	"fmt"
	"time"

	"github.com/chirpstack/chirpstack/api/go/v4/gw"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/nerrad567/lora-relay/internal/lorawan"
)

// Marshaler encodings supported by the gateway bridge.
const (
	EncodingProtobuf = "protobuf"
	EncodingJSON     = "json"
)

// Uplink is a LoRa frame received by a gateway.
type Uplink struct {
	GatewayID       string
	PHYPayload      []byte
	Frequency       uint32
	Bandwidth       uint32
	SpreadingFactor uint8
	RSSI            int32
	SNR             float32
	ReceivedAt      time.Time
}

// Params returns the radio parameters the frame was received with.
func (u Uplink) Params() lorawan.Params {
	return lorawan.Params{
		Frequency:       u.Frequency,
		Bandwidth:       u.Bandwidth,
		SpreadingFactor: u.SpreadingFactor,
	}
}

// Codec converts between gateway bridge payloads and relay types.
type Codec struct {
	json bool
}

// NewCodec returns a codec for encoding ("protobuf" or "json").
func NewCodec(encoding string) (Codec, error) {
	switch encoding {
	case EncodingProtobuf, "":
		return Codec{}, nil
	case EncodingJSON:
		return Codec{json: true}, nil
	default:
		return Codec{}, fmt.Errorf("chirpstack: unknown encoding %q", encoding)
	}
}

func (c Codec) unmarshal(payload []byte, m proto.Message) error {
	if c.json {
		return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(payload, m)
	}
	return proto.Unmarshal(payload, m)
}

func (c Codec) marshal(m proto.Message) ([]byte, error) {
	if c.json {
		return protojson.Marshal(m)
	}
	return proto.Marshal(m)
}

// DecodeUplink decodes an "event/up" payload. gatewayID is used when the
// frame's rx info does not carry one.
func (c Codec) DecodeUplink(gatewayID string, payload []byte, receivedAt time.Time) (*Uplink, error) {
	var frame gw.UplinkFrame
	if err := c.unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	lora := frame.GetTxInfo().GetModulation().GetLora()
	if lora == nil {
		return nil, ErrNotLoRa
	}

	up := &Uplink{
		GatewayID:       gatewayID,
		PHYPayload:      frame.GetPhyPayload(),
		Frequency:       frame.GetTxInfo().GetFrequency(),
		Bandwidth:       lora.GetBandwidth(),
		SpreadingFactor: uint8(lora.GetSpreadingFactor()),
		RSSI:            frame.GetRxInfo().GetRssi(),
		SNR:             frame.GetRxInfo().GetSnr(),
		ReceivedAt:      receivedAt,
	}
	if id := frame.GetRxInfo().GetGatewayId(); id != "" {
		up.GatewayID = id
	}
	return up, nil
}

// EncodeUplink builds an "event/up" payload. The relay never publishes
// uplinks; this is the inverse of DecodeUplink for tools and tests.
func (c Codec) EncodeUplink(up Uplink) ([]byte, error) {
	return c.marshal(&gw.UplinkFrame{
		PhyPayload: up.PHYPayload,
		TxInfo: &gw.UplinkTxInfo{
			Frequency:  up.Frequency,
			Modulation: loraModulation(up.Bandwidth, up.SpreadingFactor, false),
		},
		RxInfo: &gw.UplinkRxInfo{
			GatewayId: up.GatewayID,
			Rssi:      up.RSSI,
			Snr:       up.SNR,
		},
	})
}

// Downlink is a frame to transmit through one gateway.
type Downlink struct {
	ID         uint32
	GatewayID  string
	PHYPayload []byte
	Params     lorawan.Params
	Power      int32

	// InvertPolarity is set only for frames aimed at end devices. Gateways
	// demodulate with normal IQ, so relay traffic leaves it false.
	InvertPolarity bool
}

// EncodeDownlink builds a "command/down" payload with a single item sent
// immediately.
func (c Codec) EncodeDownlink(d Downlink) ([]byte, error) {
	return c.marshal(&gw.DownlinkFrame{
		DownlinkId: d.ID,
		GatewayId:  d.GatewayID,
		Items: []*gw.DownlinkFrameItem{{
			PhyPayload: d.PHYPayload,
			TxInfo: &gw.DownlinkTxInfo{
				Frequency:  d.Params.Frequency,
				Power:      d.Power,
				Modulation: loraModulation(d.Params.Bandwidth, d.Params.SpreadingFactor, d.InvertPolarity),
				Timing: &gw.Timing{
					Parameters: &gw.Timing_Immediately{
						Immediately: &gw.ImmediatelyTimingInfo{},
					},
				},
			},
		}},
	})
}

// DecodeDownlink is the inverse of EncodeDownlink. It returns the first item.
func (c Codec) DecodeDownlink(payload []byte) (*Downlink, error) {
	var frame gw.DownlinkFrame
	if err := c.unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	if len(frame.GetItems()) == 0 {
		return nil, fmt.Errorf("%w: downlink without items", ErrDecodeFailed)
	}
	item := frame.GetItems()[0]
	lora := item.GetTxInfo().GetModulation().GetLora()
	if lora == nil {
		return nil, ErrNotLoRa
	}
	return &Downlink{
		ID:         frame.GetDownlinkId(),
		GatewayID:  frame.GetGatewayId(),
		PHYPayload: item.GetPhyPayload(),
		Params: lorawan.Params{
			Frequency:       item.GetTxInfo().GetFrequency(),
			Bandwidth:       lora.GetBandwidth(),
			SpreadingFactor: uint8(lora.GetSpreadingFactor()),
		},
		Power:          item.GetTxInfo().GetPower(),
		InvertPolarity: lora.GetPolarizationInversion(),
	}, nil
}

func loraModulation(bandwidth uint32, sf uint8, invert bool) *gw.Modulation {
	return &gw.Modulation{
		Parameters: &gw.Modulation_Lora{
			Lora: &gw.LoraModulationInfo{
				Bandwidth:             bandwidth,
				SpreadingFactor:       uint32(sf),
				CodeRate:              gw.CodeRate_CR_4_5,
				PolarizationInversion: invert,
			},
		},
	}
}
