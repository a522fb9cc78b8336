package api

import (
	"github.com/rufae/servibot/internal/model"
)

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// GeneratedFile describes a file the agent produced during a turn.
type GeneratedFile struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	Message     string `json:"message,omitempty"`
}

// ChatResponse is the backend's reply to a chat turn or a confirmation
// decision. When PendingConfirmation is set the reply is not shown
// directly; the confirmation gate takes over instead.
type ChatResponse struct {
	Response            string               `json:"response"`
	ConversationID      string               `json:"conversation_id"`
	Timestamp           string               `json:"timestamp"`
	Plan                []model.PlanStep     `json:"plan,omitempty"`
	Sources             []string             `json:"sources,omitempty"`
	PendingConfirmation *model.PendingAction `json:"pending_confirmation,omitempty"`
	GeneratedFile       *GeneratedFile       `json:"generated_file,omitempty"`
}

// ConfirmationRequest is the decision form posted back to /api/chat to
// resolve a pending action.
type ConfirmationRequest struct {
	Message            string               `json:"message"`
	ConfirmationAction string               `json:"confirmation_action"`
	PendingActionData  *model.PendingAction `json:"pending_action_data"`
}

// User is the authenticated account as reported by the backend.
type User struct {
	ID      int    `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// MeResponse is the reply to GET /api/auth/me.
type MeResponse struct {
	Authenticated bool  `json:"authenticated"`
	User          *User `json:"user,omitempty"`
}

// UploadResult is the reply to POST /api/upload.
type UploadResult struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// UploadStatus is the reply to GET /api/upload/status/{id}. Status moves
// through "processing" to "indexed" or "error".
type UploadStatus struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// UploadedFile is one entry in the reply to GET /api/upload/list.
type UploadedFile struct {
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty"`
	Status     string `json:"status,omitempty"`
}

// UploadListResponse is the reply to GET /api/upload/list.
type UploadListResponse struct {
	Files []UploadedFile `json:"files"`
	Total int            `json:"total"`
}

// TranscriptionResult is the reply to POST /api/voice/transcribe.
type TranscriptionResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// SynthesizeRequest is the request body for POST /api/voice/synthesize.
type SynthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// SynthesizeResult is the reply to POST /api/voice/synthesize. The audio
// itself is fetched separately via the returned URL.
type SynthesizeResult struct {
	AudioURL string `json:"audio_url"`
	Filename string `json:"filename,omitempty"`
}

// VoiceStatus is the reply to GET /api/voice/status.
type VoiceStatus struct {
	TranscriptionAvailable bool `json:"transcription_available"`
	SynthesisAvailable     bool `json:"synthesis_available"`
}
