package json

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fwojciec/relay"
)

// segmentDTO is the JSON representation of a Segment with a type discriminator.
type segmentDTO struct {
	Type           string           `json:"type"`
	ID             *string          `json:"id,omitempty"`
	Text           *string          `json:"text,omitempty"`
	Citations      []citationDTO    `json:"citations,omitempty"`
	Name           *string          `json:"name,omitempty"`
	Args           *json.RawMessage `json:"args,omitempty"`
	ServerLabel    *string          `json:"server_label,omitempty"`
	Output         *json.RawMessage `json:"output,omitempty"`
	Error          *string          `json:"error,omitempty"`
	OutputIndex    *int             `json:"output_index,omitempty"`
	SequenceNumber *int             `json:"sequence_number,omitempty"`
	Parts          []partDTO        `json:"parts,omitempty"`
	Streaming      *bool            `json:"streaming,omitempty"`
	CombinedText   *string          `json:"combined_text,omitempty"`
}

type citationDTO struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

type partDTO struct {
	SummaryIndex   int       `json:"summary_index"`
	Type           string    `json:"type"`
	Text           string    `json:"text"`
	SequenceNumber int       `json:"sequence_number"`
	IsComplete     bool      `json:"is_complete"`
	CreatedAt      time.Time `json:"created_at"`
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optRaw(r json.RawMessage) *json.RawMessage {
	if len(r) == 0 {
		return nil
	}
	return &r
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func marshalSegments(segments []relay.Segment) ([]segmentDTO, error) {
	result := make([]segmentDTO, len(segments))
	for i, s := range segments {
		dto, err := marshalSegment(s)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		result[i] = dto
	}
	return result, nil
}

func marshalSegment(s relay.Segment) (segmentDTO, error) {
	switch v := s.(type) {
	case relay.TextSegment:
		dto := segmentDTO{Type: "text", ID: optString(v.ID), Text: &v.Text}
		for _, c := range v.Citations {
			dto.Citations = append(dto.Citations, citationDTO(c))
		}
		return dto, nil
	case relay.ToolCallSegment:
		return segmentDTO{
			Type:        "tool_call",
			ID:          &v.ID,
			Name:        &v.Name,
			Args:        optRaw(v.Args),
			ServerLabel: optString(v.ServerLabel),
			Output:      optRaw(v.Output),
			Error:       optString(v.Error),
		}, nil
	case relay.ToolResultSegment:
		return segmentDTO{
			Type:   "tool_result",
			ID:     &v.ID,
			Output: optRaw(v.Output),
			Error:  optString(v.Error),
		}, nil
	case relay.ReasoningSegment:
		dto := segmentDTO{
			Type:           "reasoning",
			ID:             &v.ID,
			OutputIndex:    &v.OutputIndex,
			SequenceNumber: &v.SequenceNumber,
			Streaming:      &v.Streaming,
			CombinedText:   optString(v.CombinedText),
		}
		for _, p := range v.Parts {
			dto.Parts = append(dto.Parts, partDTO(p))
		}
		return dto, nil
	default:
		return segmentDTO{}, fmt.Errorf("unknown segment type: %T", s)
	}
}

func unmarshalSegments(dtos []segmentDTO) ([]relay.Segment, error) {
	result := make([]relay.Segment, len(dtos))
	for i, dto := range dtos {
		s, err := unmarshalSegment(dto)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		result[i] = s
	}
	return result, nil
}

func unmarshalSegment(dto segmentDTO) (relay.Segment, error) {
	switch dto.Type {
	case "text":
		seg := relay.TextSegment{ID: deref(dto.ID), Text: deref(dto.Text)}
		for _, c := range dto.Citations {
			seg.Citations = append(seg.Citations, relay.Citation(c))
		}
		return seg, nil
	case "tool_call":
		return relay.ToolCallSegment{
			ID:          deref(dto.ID),
			Name:        deref(dto.Name),
			Args:        deref(dto.Args),
			ServerLabel: deref(dto.ServerLabel),
			Output:      deref(dto.Output),
			Error:       deref(dto.Error),
		}, nil
	case "tool_result":
		return relay.ToolResultSegment{
			ID:     deref(dto.ID),
			Output: deref(dto.Output),
			Error:  deref(dto.Error),
		}, nil
	case "reasoning":
		seg := relay.ReasoningSegment{
			ID:             deref(dto.ID),
			OutputIndex:    deref(dto.OutputIndex),
			SequenceNumber: deref(dto.SequenceNumber),
			Streaming:      deref(dto.Streaming),
			CombinedText:   deref(dto.CombinedText),
		}
		for _, p := range dto.Parts {
			seg.Parts = append(seg.Parts, relay.ReasoningPart(p))
		}
		return seg, nil
	default:
		return nil, fmt.Errorf("unknown segment type: %q", dto.Type)
	}
}
