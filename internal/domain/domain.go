package domain

type Period struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	StartsOn  string `json:"starts_on" format:"date"`
	EndsOn    string `json:"ends_on" format:"date"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Member struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Party  string `json:"party,omitempty"`
	Active bool   `json:"active"`
}

type Document struct {
	ID             string  `json:"id"`
	ProtocolNumber string  `json:"protocol_number"`
	Kind           string  `json:"kind" enum:"ata,projeto_lei,parecer,requerimento,mocao,indicacao,veto"`
	Summary        string  `json:"summary,omitempty"`
	AuthorID       *string `json:"author_id,omitempty"`
	Status         string  `json:"status" enum:"available,archived"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Session struct {
	ID                string  `json:"id"`
	PeriodID          string  `json:"period_id"`
	SeqNumber         *int    `json:"seq_number,omitempty"`
	Kind              string  `json:"kind" enum:"ordinaria,extraordinaria,solene"`
	ScheduledAt       string  `json:"scheduled_at" format:"date-time"`
	OpenedAt          *string `json:"opened_at,omitempty" format:"date-time"`
	ClosedAt          *string `json:"closed_at,omitempty" format:"date-time"`
	Location          string  `json:"location,omitempty"`
	Notes             string  `json:"notes,omitempty"`
	CancelReason      *string `json:"cancel_reason,omitempty"`
	Status            string  `json:"status" enum:"scheduled,in_progress,suspended,realized,postponed,not_realized"`
	PresidingMemberID *string `json:"presiding_member_id,omitempty"`
	AgendaPublished   bool    `json:"agenda_published"`
	AgendaSeeded      bool    `json:"agenda_seeded"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type AttendanceRecord struct {
	SessionID     string  `json:"session_id"`
	MemberID      string  `json:"member_id"`
	Status        string  `json:"status" enum:"present,absent,justified"`
	Justification *string `json:"justification,omitempty"`
}

type AgendaItem struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	DocumentID string  `json:"document_id"`
	Section    string  `json:"section" enum:"expediente,ordem_do_dia,explicacoes_pessoais"`
	Position   int     `json:"position"`
	Status     string  `json:"status" enum:"pending,read,in_voting,voted"`
	ReportRef  *string `json:"report_ref,omitempty"`
	AutoAdded  bool    `json:"auto_added"`
}

type Vote struct {
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	MemberID   string `json:"member_id"`
	Choice     string `json:"choice" enum:"yes,no,abstain"`
	CastAt     string `json:"cast_at" format:"date-time"`
}

type VotingResult struct {
	ID              string `json:"id"`
	SessionID       string `json:"session_id"`
	DocumentID      string `json:"document_id"`
	Yes             int    `json:"yes"`
	No              int    `json:"no"`
	Abstain         int    `json:"abstain"`
	Absent          int    `json:"absent"`
	CastingVoteUsed bool   `json:"casting_vote_used"`
	Secret          bool   `json:"secret"`
	Outcome         string `json:"outcome" enum:"approved,rejected"`
	Remarks         string `json:"remarks,omitempty"`
	ClosedAt        string `json:"closed_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string `json:"id"`
	OperatorID string `json:"operator_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// SessionSummary is the read-only conduct record handed to the minutes
// generator once a session is realized.
type SessionSummary struct {
	Session    Session            `json:"session"`
	Presiding  *Member            `json:"presiding,omitempty"`
	Attendance []AttendanceRecord `json:"attendance"`
	Agenda     []AgendaOutcome    `json:"agenda"`
}

type AgendaOutcome struct {
	Item     AgendaItem    `json:"item"`
	Document Document      `json:"document"`
	Result   *VotingResult `json:"result,omitempty"`
}
