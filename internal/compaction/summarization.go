package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/fendari/agentrt/internal/agent"
)

// placeholderSummary is prepended when summarization itself errors out, per
// §4.3: the run continues rather than failing the whole turn.
const placeholderSummary = "[Summarization failed — context truncated]"

// defaultKeepRecent is how many trailing items are kept verbatim ("K" in
// §4.3) when nothing else is configured.
const defaultKeepRecent = 5

// ResponderSummarizer adapts a Responder (agent.LLMProvider) to the
// compaction.Summarizer interface, so SummarizeChunks/SummarizeWithFallback
// can drive a real model call instead of a test double.
type ResponderSummarizer struct {
	Responder agent.LLMProvider
	Model     string
}

// GenerateSummary asks the Responder for a single-paragraph summary of
// messages, formatted the way FormatMessagesForSummary lays out a
// transcript, and returns its concatenated text chunks.
func (s ResponderSummarizer) GenerateSummary(ctx context.Context, messages []*Message, config *SummarizationConfig) (string, error) {
	if s.Responder == nil {
		return "", fmt.Errorf("responder summarizer: no Responder configured")
	}

	system := "Summarize the following conversation history concisely, preserving facts, decisions, and open threads a continuation would need. Respond with the summary text only."
	if config != nil && config.CustomInstructions != "" {
		system = system + "\n\n" + config.CustomInstructions
	}
	if config != nil && config.PreviousSummary != "" {
		system = system + "\n\nPrior summary to build on:\n" + config.PreviousSummary
	}

	req := &agent.CompletionRequest{
		Model:  s.Model,
		System: system,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: FormatMessagesForSummary(messages)},
		},
	}
	if config != nil {
		req.MaxTokens = config.ReserveTokens
	}

	stream, err := s.Responder.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarization request: %w", err)
	}

	var sb strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			return "", fmt.Errorf("summarization stream: %w", chunk.Error)
		}
		sb.WriteString(chunk.Text)
	}
	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		return DefaultSummaryFallback, nil
	}
	return summary, nil
}

// Summarization implements agent.WindowStrategy per §4.3: it keeps the
// last Keep items verbatim and replaces everything older with a single
// synthetic developer message summarizing them, produced by calling
// Responder with Model. It falls back to Fallback (typically a
// context.SlidingWindow) when the recent tail alone does not fit, or when
// the summary itself does not fit, and to a placeholder message on any
// summarization error.
type Summarization struct {
	Responder agent.LLMProvider
	Model     string

	// Keep is how many trailing items are preserved verbatim. Zero means
	// the §4.3 default of 5.
	Keep int

	// Fallback is used when summarization cannot produce a result that
	// fits the budget. Required.
	Fallback agent.WindowStrategy
}

var _ agent.WindowStrategy = Summarization{}

func (s Summarization) keep() int {
	if s.Keep > 0 {
		return s.Keep
	}
	return defaultKeepRecent
}

// Reduce returns items unchanged if they already fit maxTokens.
func (s Summarization) Reduce(ctx context.Context, items []agent.InputItem, maxTokens int, counter agent.TokenCounter) ([]agent.InputItem, error) {
	total := 0
	for _, it := range items {
		total += counter.CountItem(it)
	}
	if total <= maxTokens {
		return items, nil
	}

	keep := s.keep()
	if len(items) <= keep {
		return s.fallback(ctx, items, maxTokens, counter)
	}

	older := items[:len(items)-keep]
	recent := items[len(items)-keep:]

	recentTokens := 0
	for _, it := range recent {
		recentTokens += counter.CountItem(it)
	}
	if recentTokens >= maxTokens {
		return s.fallback(ctx, items, maxTokens, counter)
	}

	summaryText, err := s.summarizeOlder(ctx, older)
	if err != nil {
		summaryMsg := developerMessage(placeholderSummary)
		out := append([]agent.InputItem{summaryMsg}, recent...)
		return out, nil
	}

	summaryMsg := developerMessage(summaryText)
	if recentTokens+counter.CountItem(summaryMsg) > maxTokens {
		return s.fallback(ctx, items, maxTokens, counter)
	}

	out := make([]agent.InputItem, 0, len(recent)+1)
	out = append(out, summaryMsg)
	out = append(out, recent...)
	return out, nil
}

func (s Summarization) fallback(ctx context.Context, items []agent.InputItem, maxTokens int, counter agent.TokenCounter) ([]agent.InputItem, error) {
	if s.Fallback == nil {
		return items, nil
	}
	return s.Fallback.Reduce(ctx, items, maxTokens, counter)
}

func (s Summarization) summarizeOlder(ctx context.Context, older []agent.InputItem) (string, error) {
	messages := make([]*Message, 0, len(older))
	for _, it := range older {
		messages = append(messages, toCompactionMessage(it))
	}

	summarizer := ResponderSummarizer{Responder: s.Responder, Model: s.Model}
	config := DefaultSummarizationConfig()
	config.Model = s.Model
	return SummarizeWithFallback(ctx, messages, summarizer, config)
}

func developerMessage(text string) agent.Message {
	return agent.Message{
		Role:    agent.RoleDeveloper,
		Content: []agent.ContentPart{agent.TextPart{Text: text}},
	}
}

// toCompactionMessage flattens an agent.InputItem into the compaction
// package's own Message DTO, which only carries text content.
func toCompactionMessage(item agent.InputItem) *Message {
	switch v := item.(type) {
	case agent.Message:
		var sb strings.Builder
		for _, part := range v.Content {
			if tp, ok := part.(agent.TextPart); ok {
				sb.WriteString(tp.Text)
			}
		}
		return &Message{Role: string(v.Role), Content: sb.String()}
	case agent.ToolCallOutput:
		content := ""
		if tp, ok := v.Payload.(agent.TextPayload); ok {
			content = tp.Text
		}
		return &Message{Role: "tool", Content: content, ToolResults: content}
	default:
		return &Message{Role: "unknown"}
	}
}
