package api

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/lora-relay/internal/bridges/chirpstack"
	"github.com/nerrad567/lora-relay/internal/bundle"
	"github.com/nerrad567/lora-relay/internal/frame"
	"github.com/nerrad567/lora-relay/internal/lorawan"
	"github.com/nerrad567/lora-relay/internal/queue"
)

// errInvalidRequest marks submissions rejected before reaching a queue.
var errInvalidRequest = errors.New("invalid request")

// BundleRequest submits a bundle originated by this node.
type BundleRequest struct {
	// Source is the originating device id. Defaults to the node id.
	Source string `json:"source,omitempty"`

	// Payload is base64 in JSON.
	Payload []byte `json:"payload"`

	Frequency uint32            `json:"frequency,omitempty"`
	DataRate  *lorawan.DataRate `json:"data_rate,omitempty"`
}

// BundleResult describes a queued bundle.
type BundleResult struct {
	BundleID  uint16         `json:"bundle_id"`
	Source    string         `json:"source"`
	WireID    uint32         `json:"wire_id"`
	Fragments int            `json:"fragments"`
	Size      int            `json:"size"`
	Params    lorawan.Params `json:"params"`
}

// DownlinkRequest submits a raw frame. The transmitted PHY payload is the
// prefix byte followed by Payload, unchanged.
type DownlinkRequest struct {
	Payload []byte `json:"payload"`

	// Prefix defaults to the relay prefix.
	Prefix *uint8 `json:"prefix,omitempty"`

	lorawan.Request
}

// DownlinkResult describes a queued downlink.
type DownlinkResult struct {
	Size        int            `json:"size"`
	Fingerprint string         `json:"fingerprint"`
	Params      lorawan.Params `json:"params"`
}

// gatewayView is a gateway with its current duty-cycle consumption.
type gatewayView struct {
	chirpstack.Gateway
	DutyCycle []lorawan.SubBandUsage `json:"duty_cycle,omitempty"`
}

// handleQueues returns per-class queue statistics in drain order.
func (s *Server) handleQueues(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queues": s.queues.Stats(),
	})
}

// handleGateways lists known gateways with their duty-cycle usage.
func (s *Server) handleGateways(w http.ResponseWriter, _ *http.Request) {
	views := []gatewayView{}
	if s.gateways != nil {
		now := time.Now()
		for _, gw := range s.gateways.Gateways().List() {
			v := gatewayView{Gateway: gw}
			if s.dutyCycle != nil {
				v.DutyCycle = s.dutyCycle.Usage(gw.ID, now)
			}
			views = append(views, v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gateways": views,
		"count":    len(views),
	})
}

// handleSubmitBundle splits a bundle and queues it for flooding.
func (s *Server) handleSubmitBundle(w http.ResponseWriter, r *http.Request) {
	var req BundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	res, err := s.submitBundle(req)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// submitBundle validates req and queues every fragment as one bundle item.
// It is shared by the REST handler and the WebSocket bundle.send message.
func (s *Server) submitBundle(req BundleRequest) (*BundleResult, error) {
	source := req.Source
	if source == "" {
		source = s.nodeID
	}
	if source == "" {
		return nil, fmt.Errorf("%w: source is required", errInvalidRequest)
	}

	params, err := lorawan.Request{Frequency: req.Frequency, DataRate: req.DataRate}.Resolve(s.defaults)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	dr, err := params.DataRate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	capacity, err := bundle.FragmentCapacity(dr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}

	prefix, _ := s.prefixes.Byte(frame.KindBundle)
	wire := frame.DeviceID(source)
	id := s.splitter.NextID()

	fragments, err := bundle.Split(prefix, wire, id, req.Payload, capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}

	item := &queue.Item{Class: frame.KindBundle, Frames: fragments, Params: params}
	if err := s.queues.Enqueue(item); err != nil {
		return nil, err
	}

	s.logger.Info("bundle queued",
		"source", source,
		"bundle_id", id,
		"fragments", len(fragments),
		"size", len(req.Payload),
		"data_rate", dr.String(),
	)

	return &BundleResult{
		BundleID:  id,
		Source:    source,
		WireID:    wire,
		Fragments: len(fragments),
		Size:      len(req.Payload),
		Params:    params,
	}, nil
}

// handleSubmitDownlink queues a raw frame on the relay queue.
func (s *Server) handleSubmitDownlink(w http.ResponseWriter, r *http.Request) {
	var req DownlinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	f, params, err := s.buildDownlink(req)
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	if err := s.queues.Enqueue(&queue.Item{Class: frame.KindRelay, Frames: []*frame.Frame{f}, Params: params}); err != nil {
		writeSubmitError(w, err)
		return
	}

	fp := f.Fingerprint().String()
	s.logger.Info("downlink queued", "prefix", f.Prefix, "size", f.Len(), "fingerprint", fp)
	writeJSON(w, http.StatusAccepted, DownlinkResult{
		Size:        f.Len(),
		Fingerprint: fp,
		Params:      params,
	})
}

// buildDownlink turns req into a frame whose encoding is exactly the prefix
// byte followed by the payload.
func (s *Server) buildDownlink(req DownlinkRequest) (*frame.Frame, lorawan.Params, error) {
	params, err := req.Request.Resolve(s.defaults)
	if err != nil {
		return nil, lorawan.Params{}, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	dr, err := params.DataRate()
	if err != nil {
		return nil, lorawan.Params{}, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}

	prefix, _ := s.prefixes.Byte(frame.KindRelay)
	if req.Prefix != nil {
		prefix = *req.Prefix
	}

	size := 1 + len(req.Payload)
	if size < frame.HeaderSize {
		return nil, lorawan.Params{}, fmt.Errorf("%w: payload must be at least %d bytes", errInvalidRequest, frame.HeaderSize-1)
	}
	limit, err := lorawan.MaxPayload(dr, false)
	if err != nil {
		return nil, lorawan.Params{}, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	if size > limit {
		return nil, lorawan.Params{}, fmt.Errorf("%w: %d byte frame exceeds %d bytes at %s", errInvalidRequest, size, limit, dr)
	}

	f := &frame.Frame{
		Kind:    frame.KindRelay,
		Prefix:  prefix,
		Source:  binary.BigEndian.Uint32(req.Payload[:4]),
		Payload: append([]byte(nil), req.Payload[4:]...),
	}
	return f, params, nil
}

// writeSubmitError maps bundle and downlink submission errors to responses.
func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidRequest):
		writeValidationError(w, err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		writeQueueFull(w, err.Error())
	default:
		writeInternalError(w, "queueing frame")
	}
}
