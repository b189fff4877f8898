package context

import (
	"unicode/utf8"

	"github.com/fendari/agentrt/internal/agent"
)

// Per-item token overheads and fixed image costs (§4.3): the heuristic is
// deliberately crude — it only needs to be non-negative and additive over
// items, never exact.
const (
	messageOverheadTokens    = 4
	toolOutputOverheadTokens = 10

	imageTokensAuto = 170
	imageTokensLow  = 85
	imageTokensHigh = 765
)

// DefaultTokenCounter implements agent.TokenCounter with the default
// heuristic: text is roughly one token per four characters, an image
// costs a fixed amount depending on its requested detail level, and
// every message or tool output carries a small fixed overhead on top of
// its content.
type DefaultTokenCounter struct{}

var _ agent.TokenCounter = DefaultTokenCounter{}

// CountText estimates len(text)/4, rounded up.
func (DefaultTokenCounter) CountText(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// CountImage returns a fixed cost per detail level.
func (DefaultTokenCounter) CountImage(detail agent.ImageDetail) int {
	switch detail {
	case agent.ImageDetailLow:
		return imageTokensLow
	case agent.ImageDetailHigh:
		return imageTokensHigh
	default:
		return imageTokensAuto
	}
}

// CountItem sums a Message's parts (plus per-message overhead) or a
// ToolCallOutput's payload (plus per-tool-output overhead).
func (c DefaultTokenCounter) CountItem(item agent.InputItem) int {
	switch v := item.(type) {
	case agent.Message:
		total := messageOverheadTokens
		for _, part := range v.Content {
			switch p := part.(type) {
			case agent.TextPart:
				total += c.CountText(p.Text)
			case agent.ImagePart:
				total += c.CountImage(p.Detail)
			}
		}
		return total
	case agent.ToolCallOutput:
		total := toolOutputOverheadTokens
		total += c.countPayload(v.Payload)
		return total
	default:
		return 0
	}
}

func (c DefaultTokenCounter) countPayload(payload agent.Payload) int {
	switch p := payload.(type) {
	case agent.TextPayload:
		return c.CountText(p.Text)
	case agent.ImagePayload:
		return c.CountImage(agent.ImageDetailAuto)
	case agent.StructuredPayload:
		return c.CountText(string(p.JSON))
	default:
		return 0
	}
}
