package models

import "strings"

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates data was successfully recorded via API.
	APIStatusRecorded APIStatus = "recorded"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Recorded creates a recorded API response.
func Recorded() APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		Build()
}

// ChatRequest is the body of POST /api/chat and POST /api/teach/chat.
type ChatRequest struct {
	UserID       string `json:"userId"`
	Message      string `json:"message"`
	StreamerName string `json:"streamerName,omitempty"`
	CourseName   string `json:"courseName,omitempty"`
}

// Validate checks the chat request. An empty user ID is allowed; the server assigns one.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ChatResponse is the result of a chat turn.
type ChatResponse struct {
	Reply  string `json:"reply"`
	UserID string `json:"userId"`
	Mode   Mode   `json:"mode"`
	Stage  string `json:"stage"`
}

// CreateSessionRequest is the body of POST /api/create-session.
type CreateSessionRequest struct {
	StreamerName         string `json:"streamerName"`
	FeedbackFromViewers  bool   `json:"feedbackFromViewers"`
	FeedbackFromExternal bool   `json:"feedbackFromExternal"`
}

// CreateSessionResponse carries the dashboard link and its token.
type CreateSessionResponse struct {
	Link  string `json:"link"`
	Token string `json:"token"`
}

// VerifyAccessResponse is returned by GET /api/verify-dashboard-access.
type VerifyAccessResponse struct {
	Valid       bool   `json:"valid"`
	AccessToken string `json:"accessToken,omitempty"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
}

// SaveChatMessageRequest is the body of POST /api/save-chat-message.
type SaveChatMessageRequest struct {
	UserID       string `json:"userId"`
	StreamerName string `json:"streamerName"`
	Message      string `json:"message"`
	Role         Role   `json:"role"`
	Version      Mode   `json:"version,omitempty"`
}

// ToChatMessage converts the request into a transcript entry.
func (r *SaveChatMessageRequest) ToChatMessage() ChatMessage {
	return ChatMessage{
		UserID:      r.UserID,
		SubjectName: r.StreamerName,
		Role:        r.Role,
		Content:     r.Message,
		Mode:        r.Version,
	}
}

// ChatMessagesResponse lists transcript entries.
type ChatMessagesResponse struct {
	Messages []ChatMessage `json:"messages"`
}
