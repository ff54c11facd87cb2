package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bondly/bondly/internal/common/uuid"
)

type SessionStatus string

const (
	StatusWaitingForPartner SessionStatus = "waiting_for_partner"
	StatusCompleted         SessionStatus = "completed"
	StatusAnalyzed          SessionStatus = "analyzed"
)

// Rank orders statuses; transitions never decrease the rank.
func (s SessionStatus) Rank() int {
	switch s {
	case StatusWaitingForPartner:
		return 1
	case StatusCompleted:
		return 2
	case StatusAnalyzed:
		return 3
	}
	return 0
}

func (s SessionStatus) Valid() bool {
	return s.Rank() > 0
}

// Before returns the statuses that may transition to s.
func (s SessionStatus) Before() []SessionStatus {
	var before []SessionStatus
	for _, st := range []SessionStatus{StatusWaitingForPartner, StatusCompleted, StatusAnalyzed} {
		if st.Rank() < s.Rank() {
			before = append(before, st)
		}
	}
	return before
}

// Session is one relationship-advice session between a creator and a partner.
type Session struct {
	ID          uuid.UUID     `db:"id"`
	CreatorID   string        `db:"creator_id"`
	CreatorName string        `db:"creator_name"`
	PartnerName *string       `db:"partner_name"`
	Status      SessionStatus `db:"status"`
	ShareToken  uuid.UUID     `db:"share_token"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

// Response is one participant's perspective.
type Response struct {
	ID                   uuid.UUID  `db:"id"`
	SessionID            uuid.UUID  `db:"session_id"`
	UserID               string     `db:"user_id"`
	IsCreator            bool       `db:"is_creator"`
	SituationDescription string     `db:"situation_description"`
	Feelings             string     `db:"feelings"`
	EmotionalState       StringList `db:"emotional_state"`
	CreatedAt            time.Time  `db:"created_at"`
}

// Advice is the generated guidance for one recipient.
type Advice struct {
	ID                   uuid.UUID  `db:"id"`
	SessionID            uuid.UUID  `db:"session_id"`
	UserID               string     `db:"user_id"`
	IsCreator            bool       `db:"is_creator"`
	AdviceText           string     `db:"advice_text"`
	ConversationStarters StringList `db:"conversation_starters"`
	ActionSteps          StringList `db:"action_steps"`
	CreatedAt            time.Time  `db:"created_at"`
}

// StringList is stored as a JSON array (jsonb on Postgres, text on SQLite).
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("invalid string list: %w", err)
	}
	*l = out
	return nil
}
