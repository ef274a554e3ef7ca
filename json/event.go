// Package json serializes conversation events and persists them as JSON
// files. The wire format uses DTOs with type discriminators so that the
// domain types in package relay stay free of encoding concerns.
package json

import (
	"encoding/json"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/fwojciec/relay"
)

// eventDTO is the JSON representation of an Event.
type eventDTO struct {
	ID               string       `json:"id"`
	Role             string       `json:"role"`
	Segments         []segmentDTO `json:"segments"`
	TS               time.Time    `json:"ts"`
	OrderKey         string       `json:"order_key,omitempty"`
	ResponseMetadata *metadataDTO `json:"response_metadata,omitempty"`
}

type metadataDTO struct {
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	ResponseID    string    `json:"response_id,omitempty"`
	StopReason    string    `json:"stop_reason,omitempty"`
	RawStopReason string    `json:"raw_stop_reason,omitempty"`
	Usage         *usageDTO `json:"usage,omitempty"`
}

// MarshalEvent serializes an Event.
func MarshalEvent(e relay.Event) ([]byte, error) {
	dto, err := toDTO(e)
	if err != nil {
		return nil, err
	}
	return gojson.Marshal(dto)
}

// UnmarshalEvent deserializes an Event.
func UnmarshalEvent(data []byte) (relay.Event, error) {
	var dto eventDTO
	if err := gojson.Unmarshal(data, &dto); err != nil {
		return relay.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return fromDTO(dto)
}

// MarshalEvents serializes a slice of Events as a JSON array.
func MarshalEvents(events []relay.Event) ([]byte, error) {
	dtos, err := toDTOs(events)
	if err != nil {
		return nil, err
	}
	return gojson.Marshal(dtos)
}

// UnmarshalEvents deserializes a JSON array of Events.
func UnmarshalEvents(data []byte) ([]relay.Event, error) {
	var dtos []eventDTO
	if err := gojson.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	return fromDTOs(dtos)
}

// MarshalSegments serializes the segments of an event. Stores use it for
// the segment column.
func MarshalSegments(segments []relay.Segment) (json.RawMessage, error) {
	dtos, err := marshalSegments(segments)
	if err != nil {
		return nil, err
	}
	return gojson.Marshal(dtos)
}

// UnmarshalSegments is the inverse of MarshalSegments.
func UnmarshalSegments(data []byte) ([]relay.Segment, error) {
	var dtos []segmentDTO
	if err := gojson.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("unmarshal segments: %w", err)
	}
	return unmarshalSegments(dtos)
}

// MarshalMetadata serializes response metadata; nil stays nil.
func MarshalMetadata(md *relay.ResponseMetadata) (json.RawMessage, error) {
	if md == nil {
		return nil, nil
	}
	return gojson.Marshal(toMetadataDTO(md))
}

// UnmarshalMetadata is the inverse of MarshalMetadata.
func UnmarshalMetadata(data []byte) (*relay.ResponseMetadata, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var dto metadataDTO
	if err := gojson.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return fromMetadataDTO(&dto), nil
}

func toDTOs(events []relay.Event) ([]eventDTO, error) {
	dtos := make([]eventDTO, len(events))
	for i, e := range events {
		dto, err := toDTO(e)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		dtos[i] = dto
	}
	return dtos, nil
}

func fromDTOs(dtos []eventDTO) ([]relay.Event, error) {
	events := make([]relay.Event, len(dtos))
	for i, dto := range dtos {
		e, err := fromDTO(dto)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events[i] = e
	}
	return events, nil
}

func toDTO(e relay.Event) (eventDTO, error) {
	segments, err := marshalSegments(e.Segments)
	if err != nil {
		return eventDTO{}, err
	}
	return eventDTO{
		ID:               e.ID,
		Role:             string(e.Role),
		Segments:         segments,
		TS:               e.TS,
		OrderKey:         e.OrderKey,
		ResponseMetadata: toMetadataDTO(e.ResponseMetadata),
	}, nil
}

func fromDTO(dto eventDTO) (relay.Event, error) {
	role := relay.Role(dto.Role)
	if !role.Valid() {
		return relay.Event{}, fmt.Errorf("unknown role: %q", dto.Role)
	}
	segments, err := unmarshalSegments(dto.Segments)
	if err != nil {
		return relay.Event{}, err
	}
	return relay.Event{
		ID:               dto.ID,
		Role:             role,
		Segments:         segments,
		TS:               dto.TS,
		OrderKey:         dto.OrderKey,
		ResponseMetadata: fromMetadataDTO(dto.ResponseMetadata),
	}, nil
}

func toMetadataDTO(md *relay.ResponseMetadata) *metadataDTO {
	if md == nil {
		return nil
	}
	return &metadataDTO{
		Provider:      md.Provider,
		Model:         md.Model,
		ResponseID:    md.ResponseID,
		StopReason:    string(md.StopReason),
		RawStopReason: md.RawStopReason,
		Usage:         marshalUsage(md.Usage),
	}
}

func fromMetadataDTO(dto *metadataDTO) *relay.ResponseMetadata {
	if dto == nil {
		return nil
	}
	return &relay.ResponseMetadata{
		Provider:      dto.Provider,
		Model:         dto.Model,
		ResponseID:    dto.ResponseID,
		StopReason:    relay.StopReason(dto.StopReason),
		RawStopReason: dto.RawStopReason,
		Usage:         unmarshalUsage(dto.Usage),
	}
}
