package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"plenario/internal/domain"
	"plenario/internal/events"
)

var agendaSections = map[string]bool{
	"expediente":           true,
	"ordem_do_dia":         true,
	"explicacoes_pessoais": true,
}

// Standing rules put matter kinds in fixed sections when they are auto-added
// by the housekeeping pass: pending minutes open the expediente, freshly
// issued committee opinions go to the order of the day.
var seededSections = map[string]string{
	"ata":     "expediente",
	"parecer": "ordem_do_dia",
}

// AddAgendaItem places a document on a scheduled session's draft agenda,
// appending at the next ordinal of the chosen section.
func (e Engine) AddAgendaItem(ctx context.Context, sessionID, documentID, section, actorID string) (domain.AgendaItem, error) {
	if !agendaSections[section] {
		return domain.AgendaItem{}, fmt.Errorf("unknown agenda section %q", section)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if err := e.ensureAgendaEditable(s); err != nil {
		return domain.AgendaItem{}, err
	}
	if err := e.seedAgendaTx(ctx, tx, s, actorID); err != nil {
		return domain.AgendaItem{}, err
	}

	doc, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if doc.Status != "available" {
		return domain.AgendaItem{}, ruleErr(CodeNotEligible, "document %s is %s, not available for agendas", documentID, doc.Status)
	}
	items, err := e.Repo.ListAgendaItemsTx(ctx, tx, sessionID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	for _, it := range items {
		if it.DocumentID == documentID {
			return domain.AgendaItem{}, ruleErr(CodeDuplicateItem, "document %s is already on the agenda", documentID).withDetail("item_id", it.ID)
		}
	}

	it, err := e.appendItemTx(ctx, tx, sessionID, documentID, section, false)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "agenda.item_added", sessionID, "agenda_item", it.ID, actorID, events.EventPayload{
		"document_id": documentID,
		"section":     section,
		"position":    it.Position,
	}); err != nil {
		return domain.AgendaItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgendaItem{}, err
	}
	return it, nil
}

func (e Engine) appendItemTx(ctx context.Context, tx *sql.Tx, sessionID, documentID, section string, auto bool) (domain.AgendaItem, error) {
	pos, err := e.Repo.NextPositionTx(ctx, tx, sessionID, section)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	it := domain.AgendaItem{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		DocumentID: documentID,
		Section:    section,
		Position:   pos,
		Status:     "pending",
		AutoAdded:  auto,
	}
	if err := e.Repo.InsertAgendaItemTx(ctx, tx, it); err != nil {
		return domain.AgendaItem{}, fmt.Errorf("insert agenda item: %w", err)
	}
	return it, nil
}

func (e Engine) ensureAgendaEditable(s domain.Session) error {
	if s.Status != "scheduled" {
		return ruleErr(CodeInvalidTransition, "agenda can only be edited while the session is scheduled, status is %s", s.Status).withDetail("status", s.Status)
	}
	if s.AgendaPublished {
		return ruleErr(CodeImmutable, "agenda for session %s is published", s.ID)
	}
	return nil
}

// seedAgendaTx runs the housekeeping pass that auto-adds mandatory matters
// the first time an agenda is touched: minutes of prior sessions that were
// never approved, and committee opinions not yet agendaed. The pass runs
// once per session, guarded by a persisted flag, so an item the operator
// removed afterwards is not re-added.
func (e Engine) seedAgendaTx(ctx context.Context, tx *sql.Tx, s domain.Session, actorID string) error {
	if s.AgendaSeeded {
		return nil
	}
	applied, err := e.Repo.SetAgendaSeededTx(ctx, tx, s.ID, e.now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	for _, kind := range []string{"ata", "parecer"} {
		docs, err := e.Repo.UnagendaedByKindTx(ctx, tx, kind)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if kind == "ata" {
				approved, err := e.Repo.HasApprovedResultForDocumentTx(ctx, tx, doc.ID)
				if err != nil {
					return err
				}
				if approved {
					continue
				}
			}
			it, err := e.appendItemTx(ctx, tx, s.ID, doc.ID, seededSections[kind], true)
			if err != nil {
				return err
			}
			if err := e.Events.Append(ctx, tx, "agenda.item_added", s.ID, "agenda_item", it.ID, actorID, events.EventPayload{
				"document_id": doc.ID,
				"section":     it.Section,
				"position":    it.Position,
				"auto_added":  true,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrepareAgenda runs only the housekeeping pass, so the operator can see the
// mandatory items before placing anything manually.
func (e Engine) PrepareAgenda(ctx context.Context, sessionID, actorID string) ([]domain.AgendaItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.ensureAgendaEditable(s); err != nil {
		return nil, err
	}
	if err := e.seedAgendaTx(ctx, tx, s, actorID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListAgendaItemsTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

// RemoveAgendaItem drops an item from a draft agenda and re-densifies the
// ordinals of its section. Minutes cannot be removed, standing rules make
// their reading mandatory.
func (e Engine) RemoveAgendaItem(ctx context.Context, itemID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetAgendaItemTx(ctx, tx, itemID)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetSessionTx(ctx, tx, it.SessionID)
	if err != nil {
		return err
	}
	if err := e.ensureAgendaEditable(s); err != nil {
		return err
	}
	doc, err := e.Repo.GetDocumentTx(ctx, tx, it.DocumentID)
	if err != nil {
		return err
	}
	if doc.Kind == "ata" {
		return ruleErr(CodeImmutable, "minutes cannot be removed from the agenda")
	}
	if err := e.Repo.DeleteAgendaItemTx(ctx, tx, itemID); err != nil {
		return err
	}
	if err := e.renumberSectionTx(ctx, tx, it.SessionID, it.Section); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "agenda.item_removed", it.SessionID, "agenda_item", itemID, actorID, events.EventPayload{
		"document_id": it.DocumentID,
		"section":     it.Section,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// renumberSectionTx re-densifies one section's ordinals in the current order.
func (e Engine) renumberSectionTx(ctx context.Context, tx *sql.Tx, sessionID, section string) error {
	items, err := e.Repo.ListAgendaItemsTx(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	var ids []string
	for _, it := range items {
		if it.Section == section {
			ids = append(ids, it.ID)
		}
	}
	return e.applyOrderingTx(ctx, tx, ids)
}

// applyOrderingTx rewrites ordinals as a dense 1..N run in the given order.
// Positions are unique per section, so items first park on negative ordinals
// before taking their final slot.
func (e Engine) applyOrderingTx(ctx context.Context, tx *sql.Tx, orderedIDs []string) error {
	for i, id := range orderedIDs {
		if err := e.Repo.SetItemPositionTx(ctx, tx, id, -(i + 1)); err != nil {
			return err
		}
	}
	for i, id := range orderedIDs {
		if err := e.Repo.SetItemPositionTx(ctx, tx, id, i+1); err != nil {
			return err
		}
	}
	return nil
}

// ReorderAgenda applies a full target ordering of the session's item ids.
// The set must match the current agenda exactly; ordering is independent per
// section, so the target list's relative order within each section is what
// counts.
func (e Engine) ReorderAgenda(ctx context.Context, sessionID string, orderedIDs []string, actorID string) ([]domain.AgendaItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.ensureAgendaEditable(s); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListAgendaItemsTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	current := make(map[string]domain.AgendaItem, len(items))
	for _, it := range items {
		current[it.ID] = it
	}
	if len(orderedIDs) != len(items) {
		return nil, ruleErr(CodeInvalidOrderingSet, "ordering lists %d items, agenda has %d", len(orderedIDs), len(items))
	}
	seen := make(map[string]bool, len(orderedIDs))
	bySection := map[string][]string{}
	for _, id := range orderedIDs {
		it, ok := current[id]
		if !ok {
			return nil, ruleErr(CodeInvalidOrderingSet, "item %s is not on the agenda", id)
		}
		if seen[id] {
			return nil, ruleErr(CodeInvalidOrderingSet, "item %s listed twice", id)
		}
		seen[id] = true
		bySection[it.Section] = append(bySection[it.Section], id)
	}
	for _, ids := range bySection {
		if err := e.applyOrderingTx(ctx, tx, ids); err != nil {
			return nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, "agenda.reordered", sessionID, "session", sessionID, actorID, events.EventPayload{
		"items": len(orderedIDs),
	}); err != nil {
		return nil, err
	}
	result, err := e.Repo.ListAgendaItemsTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// PublishAgenda freezes the agenda. The housekeeping pass runs first if it
// never has, so a bare publish still carries the mandatory matters.
func (e Engine) PublishAgenda(ctx context.Context, sessionID, actorID string) (domain.Session, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if s.Status != "scheduled" {
		return domain.Session{}, ruleErr(CodeInvalidTransition, "agenda can only be published while the session is scheduled, status is %s", s.Status).withDetail("status", s.Status)
	}
	if s.AgendaPublished {
		return domain.Session{}, ruleErr(CodeImmutable, "agenda for session %s is already published", sessionID)
	}
	if err := e.seedAgendaTx(ctx, tx, s, actorID); err != nil {
		return domain.Session{}, err
	}
	count, err := e.Repo.CountAgendaItemsTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if count == 0 {
		return domain.Session{}, ruleErr(CodeEmptyAgenda, "agenda has no items to publish")
	}
	applied, err := e.Repo.SetAgendaPublishedTx(ctx, tx, sessionID, e.now().UTC().Format(time.RFC3339))
	if err != nil {
		return domain.Session{}, err
	}
	if !applied {
		return domain.Session{}, ruleErr(CodeImmutable, "agenda for session %s is already published", sessionID)
	}
	if err := e.Events.Append(ctx, tx, "agenda.published", sessionID, "session", sessionID, actorID, events.EventPayload{
		"items": count,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return e.Repo.GetSession(ctx, sessionID)
}

// MarkItemRead advances an expediente-style item from pending to read while
// the session runs.
func (e Engine) MarkItemRead(ctx context.Context, itemID, actorID string) (domain.AgendaItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetAgendaItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	s, err := e.Repo.GetSessionTx(ctx, tx, it.SessionID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if s.Status != "in_progress" {
		return domain.AgendaItem{}, ruleErr(CodeInvalidTransition, "items are read during an in-progress session, status is %s", s.Status).withDetail("status", s.Status)
	}
	if it.Status != "pending" {
		return domain.AgendaItem{}, ruleErr(CodeInvalidTransition, "item %s is %s, only pending items can be marked read", itemID, it.Status)
	}
	applied, err := e.Repo.SetItemStatusTx(ctx, tx, itemID, "pending", "read")
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if !applied {
		return domain.AgendaItem{}, conflictErr("agenda item", itemID)
	}
	if err := e.Events.Append(ctx, tx, "agenda.item_read", it.SessionID, "agenda_item", itemID, actorID, nil); err != nil {
		return domain.AgendaItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgendaItem{}, err
	}
	return e.Repo.GetAgendaItem(ctx, itemID)
}

// AttachItemReport persists the location of the externally rendered
// vote-result certificate onto a voted item.
func (e Engine) AttachItemReport(ctx context.Context, itemID, reportRef, actorID string) (domain.AgendaItem, error) {
	if reportRef == "" {
		return domain.AgendaItem{}, errors.New("report reference is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetAgendaItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if it.Status != "voted" {
		return domain.AgendaItem{}, ruleErr(CodeInvalidTransition, "item %s is %s, reports attach to voted items", itemID, it.Status)
	}
	if err := e.Repo.SetItemReportTx(ctx, tx, itemID, reportRef); err != nil {
		return domain.AgendaItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "agenda.report_attached", it.SessionID, "agenda_item", itemID, actorID, events.EventPayload{
		"report_ref": reportRef,
	}); err != nil {
		return domain.AgendaItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgendaItem{}, err
	}
	return e.Repo.GetAgendaItem(ctx, itemID)
}
