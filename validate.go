package relay

import "fmt"

// Validate checks universal constraints on Request.
// Adapter implementations may apply additional vendor-specific validation.
func (r Request) Validate() error {
	if r.Temperature != nil {
		if *r.Temperature < 0 || *r.Temperature > 2 {
			return fmt.Errorf("temperature must be in [0, 2], got %g: %w", *r.Temperature, ErrValidation)
		}
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d: %w", r.MaxTokens, ErrValidation)
	}
	for i, e := range r.Events {
		if err := ValidateEvent(e); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// ValidateEvent checks that an event's segments are valid for its role.
func ValidateEvent(e Event) error {
	switch e.Role {
	case RoleUser, RoleSystem:
		return validateSegments(e.Segments, e.Role, allowText)
	case RoleAssistant:
		return validateSegments(e.Segments, e.Role, allowText|allowToolCall|allowReasoning)
	case RoleTool:
		if len(e.Segments) != 1 {
			return fmt.Errorf("tool event must hold exactly one segment, got %d: %w", len(e.Segments), ErrValidation)
		}
		return validateSegments(e.Segments, e.Role, allowToolResult)
	default:
		return fmt.Errorf("unknown role %q: %w", e.Role, ErrValidation)
	}
}

type segmentAllow uint8

const (
	allowText segmentAllow = 1 << iota
	allowToolCall
	allowToolResult
	allowReasoning
)

func validateSegments(segments []Segment, role Role, allowed segmentAllow) error {
	for _, s := range segments {
		switch seg := s.(type) {
		case TextSegment:
			if allowed&allowText == 0 {
				return fmt.Errorf("text segment not allowed in %s event: %w", role, ErrValidation)
			}
		case ToolCallSegment:
			if allowed&allowToolCall == 0 {
				return fmt.Errorf("tool_call segment not allowed in %s event: %w", role, ErrValidation)
			}
			if seg.ID == "" {
				return fmt.Errorf("tool_call segment without id: %w", ErrValidation)
			}
		case ToolResultSegment:
			if allowed&allowToolResult == 0 {
				return fmt.Errorf("tool_result segment not allowed in %s event: %w", role, ErrValidation)
			}
			if seg.ID == "" {
				return fmt.Errorf("tool_result segment without id: %w", ErrValidation)
			}
		case ReasoningSegment:
			if allowed&allowReasoning == 0 {
				return fmt.Errorf("reasoning segment not allowed in %s event: %w", role, ErrValidation)
			}
		default:
			return fmt.Errorf("unknown segment type %T in %s event: %w", s, role, ErrValidation)
		}
	}
	return nil
}
