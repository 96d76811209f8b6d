package jina

import (
	"encoding/json"
	"strings"
)

// Jina API request/response types

type embeddingRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	EmbeddingType string   `json:"embedding_type"`
	Input         []string `json:"input"`
}

type embeddingResponse struct {
	Model string          `json:"model"`
	Data  []embeddingData `json:"data"`
	Usage usage           `json:"usage"`
}

type embeddingData struct {
	Object    string    `json:"object"`
	Index     *int      `json:"index,omitempty"`
	Embedding []float32 `json:"embedding"`
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	TopN            int      `json:"top_n"`
	Documents       []string `json:"documents"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Model   string         `json:"model"`
	Results []rerankResult `json:"results"`
	Usage   usage          `json:"usage"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type usage struct {
	TotalTokens  int `json:"total_tokens"`
	PromptTokens int `json:"prompt_tokens,omitempty"`
}

// errorResponse covers both {"detail": "..."} and {"error": {"message": "..."}} bodies
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
	Error  struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (e errorResponse) message() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	if len(e.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(e.Detail))
}
