package sessions

import (
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/advisor"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
)

// CreateSessionReq starts a session with the creator's perspective.
type CreateSessionReq struct {
	CreatorName string   `json:"creatorName" validate:"required,max=50"`
	PartnerName string   `json:"partnerName" validate:"required,max=50"`
	Situation   string   `json:"situation" validate:"required,max=2000"`
	Feelings    string   `json:"feelings" validate:"required,max=1000"`
	Emotions    []string `json:"emotions" validate:"required,min=1,max=10,unique,dive,emotion"`
}

// normalize cleans text the way the advice prompt will see it, so validation
// rejects input that is empty once markup is stripped. Lengths are left to the
// validator.
func (r *CreateSessionReq) normalize() {
	r.CreatorName = advisor.SanitizeLine(r.CreatorName, 0)
	r.PartnerName = advisor.SanitizeLine(r.PartnerName, 0)
	r.Situation = advisor.SanitizeText(r.Situation, 0)
	r.Feelings = advisor.SanitizeText(r.Feelings, 0)
	sanitizeAll(r.Emotions)
}

func sanitizeAll(items []string) {
	for i := range items {
		items[i] = advisor.SanitizeLine(items[i], 0)
	}
}

// CreateSessionRsp carries the share token to hand to the partner and the
// creator's participant token.
type CreateSessionRsp struct {
	SessionID        string               `json:"sessionId"`
	ShareToken       string               `json:"shareToken"`
	ShareURL         string               `json:"shareUrl,omitempty"`
	ParticipantToken string               `json:"participantToken"`
	TokenExpiresAt   time.Time            `json:"tokenExpiresAt"`
	Status           models.SessionStatus `json:"status"`
}

type PartnerInviteRsp struct {
	SessionID   string               `json:"sessionId"`
	CreatorName string               `json:"creatorName"`
	PartnerName string               `json:"partnerName,omitempty"`
	Status      models.SessionStatus `json:"status"`
}

// PartnerResponseReq is the partner's perspective, submitted with a share token.
type PartnerResponseReq struct {
	PartnerName string   `json:"partnerName,omitempty" validate:"max=50"`
	Situation   string   `json:"situation" validate:"required,max=2000"`
	Feelings    string   `json:"feelings" validate:"required,max=1000"`
	Emotions    []string `json:"emotions" validate:"required,min=1,max=10,unique,dive,emotion"`
}

func (r *PartnerResponseReq) normalize() {
	r.PartnerName = advisor.SanitizeLine(r.PartnerName, 0)
	r.Situation = advisor.SanitizeText(r.Situation, 0)
	r.Feelings = advisor.SanitizeText(r.Feelings, 0)
	sanitizeAll(r.Emotions)
}

type PartnerResponseRsp struct {
	SessionID        string               `json:"sessionId"`
	ParticipantToken string               `json:"participantToken"`
	TokenExpiresAt   time.Time            `json:"tokenExpiresAt"`
	Status           models.SessionStatus `json:"status"`
	AdviceID         string               `json:"adviceId,omitempty"`
	Code             string               `json:"code,omitempty"`
}

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

func StateFor(status models.SessionStatus) string {
	switch status {
	case models.StatusAnalyzed:
		return StateReady
	case models.StatusCompleted:
		return StateProcessing
	}
	return StateWaiting
}

type AdviceReady struct {
	Creator bool `json:"creator"`
	Partner bool `json:"partner"`
}

// SessionStatusRsp reports progress. Role is set when the caller is a participant.
type SessionStatusRsp struct {
	SessionID   string               `json:"sessionId"`
	Status      models.SessionStatus `json:"status"`
	State       string               `json:"state"`
	AdviceReady AdviceReady          `json:"adviceReady"`
	Role        string               `json:"role,omitempty"`
}

// AdviceIDRsp holds a null id until advice exists.
type AdviceIDRsp struct {
	AdviceID *string `json:"adviceId"`
}

type AdviceRsp struct {
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

// SessionSummary is one entry of the caller's session list. ShareToken is only
// included for the creator.
type SessionSummary struct {
	SessionID   string               `json:"sessionId"`
	CreatorName string               `json:"creatorName"`
	PartnerName string               `json:"partnerName,omitempty"`
	Status      models.SessionStatus `json:"status"`
	Role        string               `json:"role"`
	ShareToken  string               `json:"shareToken,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	ExpiresAt   time.Time            `json:"expiresAt"`
}

type SessionListRsp struct {
	Sessions []SessionSummary `json:"sessions"`
}
