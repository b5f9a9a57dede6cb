package api

import (
	"io"

	"nexchat/internal/model"
)

const (
	PathChat     = "/api/chat-n8n"
	PathStatus   = "/api/status"
	PathMessages = "/api/messages"
	PathUpload   = "/api/upload"

	StatusProcessing = "processing"
	ServerOnline     = "online"
)

type HistoryEntry struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

type SendRequest struct {
	Message             string         `json:"message"`
	ConversationHistory []HistoryEntry `json:"conversation_history"`
	ConversationID      *string        `json:"conversation_id"`
}

type SendResponse struct {
	Response       string `json:"response"`
	Status         string `json:"status,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type StatusResponse struct {
	Server string `json:"server"`
}

type HistoryResponse struct {
	ConversationID string                      `json:"conversation_id,omitempty"`
	Messages       []model.ConversationMessage `json:"messages"`
}

type UploadResponse struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName,omitempty"`
}

// File is an attachment ready to upload. Size may be zero when unknown.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type ErrorResponse struct {
	Error string `json:"error"`
}
