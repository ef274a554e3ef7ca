package json

import "github.com/fwojciec/relay"

type usageDTO struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
}

func marshalUsage(u *relay.Usage) *usageDTO {
	if u == nil {
		return nil
	}
	return &usageDTO{
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens,
		ReasoningTokens:  u.ReasoningTokens,
	}
}

func unmarshalUsage(dto *usageDTO) *relay.Usage {
	if dto == nil {
		return nil
	}
	return &relay.Usage{
		InputTokens:      dto.InputTokens,
		OutputTokens:     dto.OutputTokens,
		CacheReadTokens:  dto.CacheReadTokens,
		CacheWriteTokens: dto.CacheWriteTokens,
		ReasoningTokens:  dto.ReasoningTokens,
	}
}
