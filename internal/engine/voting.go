package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"plenario/internal/config"
	"plenario/internal/domain"
	"plenario/internal/engine/quorum"
	"plenario/internal/events"
	"plenario/internal/repo"
)

var voteChoices = map[string]bool{
	"yes":     true,
	"no":      true,
	"abstain": true,
}

// StartVote opens the roll-call round for an agenda item. The session must
// be in progress with quorum, and no other item of the session may already
// be in voting.
func (e Engine) StartVote(ctx context.Context, itemID, actorID string) (domain.AgendaItem, error) {
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
		return domain.AgendaItem{}, ruleErr(CodeInvalidTransition, "votes run during an in-progress session, status is %s", s.Status).withDetail("status", s.Status)
	}
	if it.Status != "pending" {
		if it.Status == "voted" {
			return domain.AgendaItem{}, ruleErr(CodeVotingClosed, "document %s was already voted in this session", it.DocumentID)
		}
		return domain.AgendaItem{}, ruleErr(CodeInvalidTransition, "item %s is %s, only pending items can go to vote", itemID, it.Status)
	}
	if open, err := e.Repo.InVotingItemTx(ctx, tx, it.SessionID); err == nil {
		return domain.AgendaItem{}, ruleErr(CodeInvalidTransition, "a vote is already open on document %s", open.DocumentID).withDetail("item_id", open.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.AgendaItem{}, err
	}

	q, err := e.quorumTx(ctx, tx, it.SessionID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if !q.HasQuorum {
		return domain.AgendaItem{}, ruleErr(CodeNoQuorum, "%d of %d members present, quorum is %d", q.Present, q.RosterSize, q.Minimum).
			withDetail("present", q.Present).withDetail("minimum", q.Minimum)
	}

	applied, err := e.Repo.SetItemStatusTx(ctx, tx, itemID, "pending", "in_voting")
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if !applied {
		return domain.AgendaItem{}, conflictErr("agenda item", itemID)
	}
	if err := e.Events.Append(ctx, tx, "vote.started", it.SessionID, "agenda_item", itemID, actorID, events.EventPayload{
		"document_id": it.DocumentID,
		"present":     q.Present,
	}); err != nil {
		return domain.AgendaItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgendaItem{}, err
	}
	return e.Repo.GetAgendaItem(ctx, itemID)
}

func (e Engine) quorumTx(ctx context.Context, tx *sql.Tx, sessionID string) (quorum.Status, error) {
	records, err := e.Repo.ListAttendanceTx(ctx, tx, sessionID)
	if err != nil {
		return quorum.Status{}, err
	}
	return quorum.Compute(records, len(records)), nil
}

// CastVote records one member's choice while the round is open. Re-casting
// overwrites; last write wins until the round closes.
func (e Engine) CastVote(ctx context.Context, itemID, memberID, choice, actorID string) error {
	if !voteChoices[choice] {
		return fmt.Errorf("unknown vote choice %q", choice)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetAgendaItemTx(ctx, tx, itemID)
	if err != nil {
		return err
	}
	if it.Status != "in_voting" {
		return ruleErr(CodeVotingClosed, "voting on document %s is not open", it.DocumentID).withDetail("item_status", it.Status)
	}
	rec, err := e.Repo.GetAttendanceTx(ctx, tx, it.SessionID, memberID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ruleErr(CodeNotEligible, "member %s is not on this session's roster", memberID)
		}
		return err
	}
	if rec.Status != "present" {
		return ruleErr(CodeNotEligible, "member %s is %s, only present members vote", memberID, rec.Status)
	}
	if err := e.Repo.UpsertVoteTx(ctx, tx, domain.Vote{
		SessionID:  it.SessionID,
		DocumentID: it.DocumentID,
		MemberID:   memberID,
		Choice:     choice,
		CastAt:     e.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}
	payload := events.EventPayload{"member_id": memberID}
	doc, err := e.Repo.GetDocumentTx(ctx, tx, it.DocumentID)
	if err != nil {
		return err
	}
	// A secret ballot stores choices for integrity but never surfaces the
	// member-to-choice mapping, the event log included.
	if !e.policyFor(doc.Kind).Secret {
		payload["choice"] = choice
	}
	if err := e.Events.Append(ctx, tx, "vote.cast", it.SessionID, "agenda_item", itemID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) policyFor(kind string) config.VotingPolicy {
	if e.Config == nil {
		return config.VotingPolicy{Majority: "simple"}
	}
	return e.Config.PolicyFor(kind)
}

// CloseVote tallies the round and writes the immutable result. The decision
// rule comes from the chamber's standing rules for the document's kind:
// simple majority approves when yes outnumbers no, a qualified majority
// needs yes to reach the configured fraction of the roster. A tie falls to
// rejected unless the rules grant the presiding member a casting vote and
// one was supplied.
func (e Engine) CloseVote(ctx context.Context, itemID, castingChoice, remarks, actorID string) (domain.VotingResult, error) {
	if castingChoice != "" && castingChoice != "yes" && castingChoice != "no" {
		return domain.VotingResult{}, fmt.Errorf("casting vote must be yes or no, got %q", castingChoice)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.VotingResult{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetAgendaItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.VotingResult{}, err
	}
	if it.Status != "in_voting" {
		return domain.VotingResult{}, ruleErr(CodeVotingClosed, "voting on document %s is not open", it.DocumentID).withDetail("item_status", it.Status)
	}
	s, err := e.Repo.GetSessionTx(ctx, tx, it.SessionID)
	if err != nil {
		return domain.VotingResult{}, err
	}
	doc, err := e.Repo.GetDocumentTx(ctx, tx, it.DocumentID)
	if err != nil {
		return domain.VotingResult{}, err
	}
	policy := e.policyFor(doc.Kind)

	votes, err := e.Repo.ListVotesTx(ctx, tx, it.SessionID, it.DocumentID)
	if err != nil {
		return domain.VotingResult{}, err
	}
	records, err := e.Repo.ListAttendanceTx(ctx, tx, it.SessionID)
	if err != nil {
		return domain.VotingResult{}, err
	}
	q := quorum.Compute(records, len(records))

	res := domain.VotingResult{
		ID:         uuid.NewString(),
		SessionID:  it.SessionID,
		DocumentID: it.DocumentID,
		Secret:     policy.Secret,
		Remarks:    remarks,
		ClosedAt:   e.now().UTC().Format(time.RFC3339),
	}
	for _, v := range votes {
		switch v.Choice {
		case "yes":
			res.Yes++
		case "no":
			res.No++
		case "abstain":
			res.Abstain++
		}
	}
	res.Absent = q.Present - len(votes)

	switch policy.Majority {
	case "qualified":
		num, den, err := policy.Threshold()
		if err != nil {
			return domain.VotingResult{}, fmt.Errorf("voting policy for %s: %w", doc.Kind, err)
		}
		// ceil(rosterSize * num / den) without floats.
		needed := (q.RosterSize*num + den - 1) / den
		if res.Yes >= needed {
			res.Outcome = "approved"
		} else {
			res.Outcome = "rejected"
		}
	default:
		switch {
		case res.Yes > res.No:
			res.Outcome = "approved"
		case res.Yes == res.No && policy.CastingVote && castingChoice != "" && s.PresidingMemberID != nil:
			res.CastingVoteUsed = true
			if castingChoice == "yes" {
				res.Outcome = "approved"
			} else {
				res.Outcome = "rejected"
			}
		default:
			res.Outcome = "rejected"
		}
	}

	if err := e.Repo.InsertVotingResultTx(ctx, tx, res); err != nil {
		return domain.VotingResult{}, fmt.Errorf("insert voting result: %w", err)
	}
	applied, err := e.Repo.SetItemStatusTx(ctx, tx, itemID, "in_voting", "voted")
	if err != nil {
		return domain.VotingResult{}, err
	}
	if !applied {
		return domain.VotingResult{}, conflictErr("agenda item", itemID)
	}
	if err := e.Events.Append(ctx, tx, "vote.closed", it.SessionID, "agenda_item", itemID, actorID, events.EventPayload{
		"document_id":       it.DocumentID,
		"yes":               res.Yes,
		"no":                res.No,
		"abstain":           res.Abstain,
		"absent":            res.Absent,
		"outcome":           res.Outcome,
		"casting_vote_used": res.CastingVoteUsed,
		"secret":            res.Secret,
	}); err != nil {
		return domain.VotingResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.VotingResult{}, err
	}
	return res, nil
}

// AbandonVote cancels an open round without a result: recorded votes are
// discarded and the item returns to pending so it can be voted later in the
// session.
func (e Engine) AbandonVote(ctx context.Context, itemID, reason, actorID string) (domain.AgendaItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetAgendaItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if it.Status != "in_voting" {
		return domain.AgendaItem{}, ruleErr(CodeVotingClosed, "voting on document %s is not open", it.DocumentID).withDetail("item_status", it.Status)
	}
	if err := e.Repo.DeleteVotesTx(ctx, tx, it.SessionID, it.DocumentID); err != nil {
		return domain.AgendaItem{}, err
	}
	applied, err := e.Repo.SetItemStatusTx(ctx, tx, itemID, "in_voting", "pending")
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if !applied {
		return domain.AgendaItem{}, conflictErr("agenda item", itemID)
	}
	if err := e.Events.Append(ctx, tx, "vote.abandoned", it.SessionID, "agenda_item", itemID, actorID, events.EventPayload{
		"document_id": it.DocumentID,
		"reason":      reason,
	}); err != nil {
		return domain.AgendaItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgendaItem{}, err
	}
	return e.Repo.GetAgendaItem(ctx, itemID)
}

// VoteRecord is one row of the roll call as exposed to read paths. For a
// secret ballot the choice is withheld; only the fact the member voted shows.
type VoteRecord struct {
	MemberID string `json:"member_id"`
	Choice   string `json:"choice,omitempty"`
	CastAt   string `json:"cast_at,omitempty" format:"date-time"`
}

// RollCall lists who voted on an item. Choices appear only for open ballots;
// a secret ballot exposes the voter roll without the member-to-choice
// mapping, open or closed.
func (e Engine) RollCall(ctx context.Context, itemID string) ([]VoteRecord, error) {
	it, err := e.Repo.GetAgendaItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	doc, err := e.Repo.GetDocument(ctx, it.DocumentID)
	if err != nil {
		return nil, err
	}
	if e.policyFor(doc.Kind).Secret {
		ids, err := e.Repo.ListVoterIDs(ctx, it.SessionID, it.DocumentID)
		if err != nil {
			return nil, err
		}
		records := make([]VoteRecord, 0, len(ids))
		for _, id := range ids {
			records = append(records, VoteRecord{MemberID: id})
		}
		return records, nil
	}
	votes, err := e.Repo.ListVotes(ctx, it.SessionID, it.DocumentID)
	if err != nil {
		return nil, err
	}
	records := make([]VoteRecord, 0, len(votes))
	for _, v := range votes {
		records = append(records, VoteRecord{MemberID: v.MemberID, Choice: v.Choice, CastAt: v.CastAt})
	}
	return records, nil
}
