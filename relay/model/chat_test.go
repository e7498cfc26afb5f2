package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageContentString(t *testing.T) {
	t.Parallel()

	plain := Message{Role: "user", Content: "hello"}
	require.Equal(t, "hello", plain.ContentString())

	structured := Message{Role: "user", Content: []any{
		map[string]any{"type": "text", "text": "part one "},
		map[string]any{"type": "image_url", "image_url": map[string]any{"url": "data:..."}},
		map[string]any{"type": "text", "text": "part two"},
	}}
	require.Equal(t, "part one part two", structured.ContentString())

	empty := Message{Role: "user", Content: 42}
	require.Equal(t, "", empty.ContentString())
}

func TestChatRequestPromptChars(t *testing.T) {
	t.Parallel()

	req := &ChatRequest{Messages: []Message{
		{Role: "system", Content: "abc"},
		{Role: "user", Content: "defgh"},
	}}
	require.Equal(t, 8, req.PromptChars())
}

func TestStreamChunkFinishReason(t *testing.T) {
	t.Parallel()

	open := &StreamChunk{Choices: []ChunkChoice{{Delta: Delta{Content: "hi"}}}}
	require.Equal(t, "", open.FinishReason())

	stop := "stop"
	terminal := &StreamChunk{Choices: []ChunkChoice{
		{Delta: Delta{}},
		{FinishReason: &stop},
	}}
	require.Equal(t, "stop", terminal.FinishReason())
}

func TestStreamChunkContentChars(t *testing.T) {
	t.Parallel()

	chunk := &StreamChunk{Choices: []ChunkChoice{
		{Delta: Delta{Content: "abcd"}},
		{Delta: Delta{Content: "ef"}},
	}}
	require.Equal(t, 6, chunk.ContentChars())
}
