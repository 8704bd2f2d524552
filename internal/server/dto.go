package server

import (
	"encoding/json"

	"plenario/internal/config"
	"plenario/internal/domain"
)

// Request payloads

type CreatePeriodRequest struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	StartsOn string `json:"starts_on" format:"date"`
	EndsOn   string `json:"ends_on" format:"date"`
}

type CreateMemberRequest struct {
	ID     *string `json:"id,omitempty"`
	Name   string  `json:"name"`
	Party  *string `json:"party,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

type CreateDocumentRequest struct {
	ID             *string `json:"id,omitempty"`
	ProtocolNumber string  `json:"protocol_number"`
	Kind           string  `json:"kind" enum:"ata,projeto_lei,parecer,requerimento,mocao,indicacao,veto"`
	Summary        *string `json:"summary,omitempty"`
	AuthorID       *string `json:"author_id,omitempty"`
}

type ScheduleSessionRequest struct {
	ID          *string `json:"id,omitempty"`
	PeriodID    *string `json:"period_id,omitempty"`
	Kind        string  `json:"kind,omitempty" enum:"ordinaria,extraordinaria,solene"`
	ScheduledAt string  `json:"scheduled_at" format:"date-time"`
	Location    *string `json:"location,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

type OpenSessionRequest struct {
	PresidingMemberID string `json:"presiding_member_id,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type RescheduleSessionRequest struct {
	ScheduledAt string `json:"scheduled_at" format:"date-time"`
}

type AddAgendaItemRequest struct {
	DocumentID string `json:"document_id"`
	Section    string `json:"section" enum:"expediente,ordem_do_dia,explicacoes_pessoais"`
}

type ReorderAgendaRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type AttachReportRequest struct {
	ReportRef string `json:"report_ref"`
}

type MarkAttendanceRequest struct {
	Status        string `json:"status" enum:"present,absent,justified"`
	Justification string `json:"justification,omitempty"`
}

type CastVoteRequest struct {
	MemberID string `json:"member_id"`
	Choice   string `json:"choice" enum:"yes,no,abstain"`
}

type CloseVoteRequest struct {
	CastingVote string `json:"casting_vote,omitempty" enum:"yes,no"`
	Remarks     string `json:"remarks,omitempty"`
}

type GenerateSessionsRequest struct {
	PeriodID *string `json:"period_id,omitempty"`
	Year     int     `json:"year" minimum:"2000"`
	Month    int     `json:"month" minimum:"1" maximum:"12"`
}

type CreateAPIKeyRequest struct {
	OperatorID string `json:"operator_id"`
	Name       string `json:"name,omitempty"`
}

// Response payloads

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type APIKeyResponse struct {
	ID         string `json:"id"`
	OperatorID string `json:"operator_id"`
	Name       string `json:"name,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	// The secret is returned exactly once, on creation.
	Key string `json:"key,omitempty"`
}

type ChamberConfigResponse struct {
	Chamber struct {
		Name   string `json:"name"`
		Period string `json:"period"`
	} `json:"chamber"`
	Sessions struct {
		Weekday      string `json:"weekday"`
		StartTime    string `json:"start_time"`
		Location     string `json:"location"`
		RecessMonths []int  `json:"recess_months"`
	} `json:"sessions"`
	Voting struct {
		Default config.VotingPolicy            `json:"default"`
		Kinds   map[string]config.VotingPolicy `json:"kinds"`
	} `json:"voting"`
}

type paginatedSessions struct {
	Items []domain.Session `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SessionID:  e.SessionID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) ChamberConfigResponse {
	var res ChamberConfigResponse
	res.Chamber.Name = cfg.Chamber.Name
	res.Chamber.Period = cfg.Chamber.Period
	res.Sessions.Weekday = cfg.Sessions.Weekday
	res.Sessions.StartTime = cfg.Sessions.StartTime
	res.Sessions.Location = cfg.Sessions.Location
	res.Sessions.RecessMonths = cfg.Sessions.RecessMonths
	res.Voting.Default = cfg.Voting.Default
	res.Voting.Kinds = cfg.Voting.Kinds
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
