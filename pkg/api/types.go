package api

import "time"

// Session statuses as stored by the server.
const (
	StatusWaitingForPartner = "waiting_for_partner"
	StatusCompleted         = "completed"
	StatusAnalyzed          = "analyzed"
)

// Watch states derived from the session status.
const (
	StateWaiting    = "waiting"
	StateProcessing = "processing"
	StateReady      = "ready"
)

// Participant roles.
const (
	RoleCreator = "creator"
	RolePartner = "partner"
)

// Perspective is one participant's account of the situation.
type Perspective struct {
	Situation string   `json:"situation"`
	Feelings  string   `json:"feelings"`
	Emotions  []string `json:"emotions"`
}

type CreateSessionRequest struct {
	CreatorName string `json:"creatorName"`
	PartnerName string `json:"partnerName"`
	Perspective
}

type CreateSessionResponse struct {
	SessionID        string    `json:"sessionId"`
	ShareToken       string    `json:"shareToken"`
	ShareURL         string    `json:"shareUrl,omitempty"`
	ParticipantToken string    `json:"participantToken"`
	TokenExpiresAt   time.Time `json:"tokenExpiresAt"`
	Status           string    `json:"status"`
}

type PartnerInvite struct {
	SessionID   string `json:"sessionId"`
	CreatorName string `json:"creatorName"`
	PartnerName string `json:"partnerName,omitempty"`
	Status      string `json:"status"`
}

type PartnerResponseRequest struct {
	PartnerName string `json:"partnerName,omitempty"`
	Perspective
}

type PartnerResponseResult struct {
	SessionID        string    `json:"sessionId"`
	ParticipantToken string    `json:"participantToken"`
	TokenExpiresAt   time.Time `json:"tokenExpiresAt"`
	Status           string    `json:"status"`
	// AdviceID is set when the server analyzed the session right away.
	AdviceID string `json:"adviceId,omitempty"`
	// Code carries the error code of a failed immediate analysis.
	Code string `json:"code,omitempty"`
}

type AdviceIDs struct {
	Creator string `json:"creator"`
	Partner string `json:"partner"`
}

type AnalyzeResult struct {
	Success   bool      `json:"success"`
	AdviceIDs AdviceIDs `json:"adviceIds"`
}

type AdviceReady struct {
	Creator bool `json:"creator"`
	Partner bool `json:"partner"`
}

type SessionStatus struct {
	SessionID   string      `json:"sessionId"`
	Status      string      `json:"status"`
	State       string      `json:"state"`
	AdviceReady AdviceReady `json:"adviceReady"`
	Role        string      `json:"role,omitempty"`
}

type Advice struct {
	ID                   string    `json:"id"`
	SessionID            string    `json:"sessionId"`
	IsCreator            bool      `json:"isCreator"`
	RecipientName        string    `json:"recipientName"`
	PartnerName          string    `json:"partnerName"`
	Advice               string    `json:"advice"`
	ActionSteps          []string  `json:"actionSteps"`
	ConversationStarters []string  `json:"conversationStarters"`
	CreatedAt            time.Time `json:"createdAt"`
	ExpiresAt            time.Time `json:"expiresAt"`
}

type SessionSummary struct {
	SessionID   string    `json:"sessionId"`
	CreatorName string    `json:"creatorName"`
	PartnerName string    `json:"partnerName,omitempty"`
	Status      string    `json:"status"`
	Role        string    `json:"role"`
	ShareToken  string    `json:"shareToken,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type CleanupResult struct {
	Success bool `json:"success"`
	Deleted struct {
		Sessions  int64 `json:"sessions"`
		Responses int64 `json:"responses"`
		Advice    int64 `json:"advice"`
	} `json:"deleted"`
	Timestamp time.Time `json:"timestamp"`
}

type VersionInfo struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

// SessionEvent is a status change pushed over the event stream.
type SessionEvent struct {
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}
