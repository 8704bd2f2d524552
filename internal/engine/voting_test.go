package engine_test

import (
	"strings"
	"testing"

	"plenario/internal/config"
	"plenario/internal/engine"
)

func TestPlenaryApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 13)
	doc := registerDoc(t, env, "projeto_lei", "PL-700")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members[:9]...)

	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start vote: %v", err)
	}
	for i, m := range members[:9] {
		choice := "yes"
		switch {
		case i >= 6 && i < 8:
			choice = "no"
		case i == 8:
			choice = "abstain"
		}
		if err := env.Engine.CastVote(env.Ctx, items[0].ID, m, choice, "tester"); err != nil {
			t.Fatalf("cast %s: %v", m, err)
		}
	}
	res, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester")
	if err != nil {
		t.Fatalf("close vote: %v", err)
	}
	if res.Yes != 6 || res.No != 2 || res.Abstain != 1 || res.Absent != 0 {
		t.Fatalf("unexpected tally: %+v", res)
	}
	if res.Outcome != "approved" {
		t.Fatalf("expected approved, got %s", res.Outcome)
	}
	if res.CastingVoteUsed {
		t.Fatalf("no casting vote expected on a clear majority")
	}
}

func TestCloseVoteCountsSumToPresent(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 13)
	doc := registerDoc(t, env, "projeto_lei", "PL-701")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members[:12]...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start vote: %v", err)
	}
	for i, m := range members[:12] {
		choice := "yes"
		switch {
		case i >= 6 && i < 11:
			choice = "no"
		case i == 11:
			choice = "abstain"
		}
		if err := env.Engine.CastVote(env.Ctx, items[0].ID, m, choice, "tester"); err != nil {
			t.Fatalf("cast %s: %v", m, err)
		}
	}
	res, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester")
	if err != nil {
		t.Fatalf("close vote: %v", err)
	}
	if res.Yes != 6 || res.No != 5 || res.Abstain != 1 || res.Absent != 0 {
		t.Fatalf("unexpected tally: %+v", res)
	}
	if res.Yes+res.No+res.Abstain+res.Absent != 12 {
		t.Fatalf("counts must sum to present")
	}
	if res.Outcome != "approved" {
		t.Fatalf("abstentions count for no one; expected approved, got %s", res.Outcome)
	}
}

func TestStartVoteRequiresQuorum(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 13)
	doc := registerDoc(t, env, "projeto_lei", "PL-702")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members[:6]...)
	_, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester")
	if code := ruleCode(t, err); code != engine.CodeNoQuorum {
		t.Fatalf("expected no_quorum with 6 of 13, got %s", code)
	}
	markPresent(t, env, s.ID, members[6])
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("expected vote to start at exactly quorum: %v", err)
	}
}

func TestSingleOpenVotePerSession(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 3)
	doc1 := registerDoc(t, env, "projeto_lei", "PL-703")
	doc2 := registerDoc(t, env, "projeto_lei", "PL-704")
	s, items := openSession(t, env, members[0], doc1, doc2)
	markPresent(t, env, s.ID, members...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start first: %v", err)
	}
	_, err := env.Engine.StartVote(env.Ctx, items[1].ID, "tester")
	if code := ruleCode(t, err); code != engine.CodeInvalidTransition {
		t.Fatalf("expected invalid_transition for second open vote, got %s", code)
	}
	// an open vote also blocks suspension and close
	if _, err := env.Engine.SuspendSession(env.Ctx, s.ID, "tester"); err == nil {
		t.Fatalf("expected suspend blocked by open vote")
	}
	if _, err := env.Engine.CloseSession(env.Ctx, s.ID, "tester"); err == nil {
		t.Fatalf("expected close blocked by open vote")
	}
}

func TestVotedItemCannotReopen(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 3)
	doc := registerDoc(t, env, "projeto_lei", "PL-705")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester"); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester")
	if code := ruleCode(t, err); code != engine.CodeVotingClosed {
		t.Fatalf("expected voting_closed, got %s", code)
	}
}

func TestCastVoteEligibility(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 5)
	doc := registerDoc(t, env, "projeto_lei", "PL-706")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members[:3]...)
	// no open round yet
	err := env.Engine.CastVote(env.Ctx, items[0].ID, members[0], "yes", "tester")
	if code := ruleCode(t, err); code != engine.CodeVotingClosed {
		t.Fatalf("expected voting_closed before start, got %s", code)
	}
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// absent member cannot vote
	err = env.Engine.CastVote(env.Ctx, items[0].ID, members[4], "yes", "tester")
	if code := ruleCode(t, err); code != engine.CodeNotEligible {
		t.Fatalf("expected not_eligible for absent member, got %s", code)
	}
	// someone off the roster cannot vote
	err = env.Engine.CastVote(env.Ctx, items[0].ID, "stranger", "yes", "tester")
	if code := ruleCode(t, err); code != engine.CodeNotEligible {
		t.Fatalf("expected not_eligible off roster, got %s", code)
	}
}

func TestReCastOverwrites(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 3)
	doc := registerDoc(t, env, "projeto_lei", "PL-707")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := env.Engine.CastVote(env.Ctx, items[0].ID, members[0], "yes", "tester"); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if err := env.Engine.CastVote(env.Ctx, items[0].ID, members[0], "no", "tester"); err != nil {
		t.Fatalf("re-cast: %v", err)
	}
	res, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Yes != 0 || res.No != 1 {
		t.Fatalf("last cast wins; got yes=%d no=%d", res.Yes, res.No)
	}
}

func TestTieFallsToRejectedWithoutCastingVote(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 5)
	doc := registerDoc(t, env, "projeto_lei", "PL-708")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members[:4]...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, m := range members[:4] {
		choice := "yes"
		if i >= 2 {
			choice = "no"
		}
		if err := env.Engine.CastVote(env.Ctx, items[0].ID, m, choice, "tester"); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	res, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Outcome != "rejected" || res.CastingVoteUsed {
		t.Fatalf("tie without casting vote must reject: %+v", res)
	}
}

func TestCastingVoteBreaksTie(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 5)
	doc := registerDoc(t, env, "projeto_lei", "PL-709")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members[:4]...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, m := range members[:4] {
		choice := "yes"
		if i >= 2 {
			choice = "no"
		}
		if err := env.Engine.CastVote(env.Ctx, items[0].ID, m, choice, "tester"); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	res, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "yes", "", "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Outcome != "approved" || !res.CastingVoteUsed {
		t.Fatalf("expected casting vote approval: %+v", res)
	}
}

func TestQualifiedMajorityUsesRosterSize(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 6)
	// default config requires 2/3 of the roster for a veto override
	veto := registerDoc(t, env, "veto", "VETO-001")
	s, items := openSession(t, env, members[0], veto)
	markPresent(t, env, s.ID, members...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// 3 yes of a 6-seat roster is a simple majority of votes but short of
	// the 4 needed for 2/3
	for i, m := range members {
		choice := "abstain"
		if i < 3 {
			choice = "yes"
		} else if i == 3 {
			choice = "no"
		}
		if err := env.Engine.CastVote(env.Ctx, items[0].ID, m, choice, "tester"); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	res, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Outcome != "rejected" {
		t.Fatalf("3 of 6 must fail a 2/3 threshold, got %s", res.Outcome)
	}
}

func TestQualifiedMajorityReached(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 6)
	veto := registerDoc(t, env, "veto", "VETO-002")
	s, items := openSession(t, env, members[0], veto)
	markPresent(t, env, s.ID, members...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, m := range members {
		choice := "no"
		if i < 4 {
			choice = "yes"
		}
		if err := env.Engine.CastVote(env.Ctx, items[0].ID, m, choice, "tester"); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	res, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Outcome != "approved" {
		t.Fatalf("4 of 6 meets 2/3, got %s", res.Outcome)
	}
}

func TestAbandonVoteDiscardsBallots(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 3)
	doc := registerDoc(t, env, "projeto_lei", "PL-710")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := env.Engine.CastVote(env.Ctx, items[0].ID, members[0], "no", "tester"); err != nil {
		t.Fatalf("cast: %v", err)
	}
	it, err := env.Engine.AbandonVote(env.Ctx, items[0].ID, "order question raised", "tester")
	if err != nil || it.Status != "pending" {
		t.Fatalf("abandon: %v status=%s", err, it.Status)
	}
	// the round can run again, with a clean slate
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	for _, m := range members {
		if err := env.Engine.CastVote(env.Ctx, items[0].ID, m, "yes", "tester"); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	res, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Yes != 3 || res.No != 0 {
		t.Fatalf("abandoned ballots must not leak into the rerun: %+v", res)
	}
}

func TestBallotDiscardedWhenVoterLeavesPresent(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 3)
	doc := registerDoc(t, env, "projeto_lei", "PL-720")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, m := range members {
		if err := env.Engine.CastVote(env.Ctx, items[0].ID, m, "yes", "tester"); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	// stepping out mid-round withdraws the ballot with the member
	if _, err := env.Engine.MarkAttendance(env.Ctx, s.ID, members[2], "absent", "", "tester"); err != nil {
		t.Fatalf("mark absent: %v", err)
	}
	res, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Yes != 2 || res.No != 0 || res.Abstain != 0 {
		t.Fatalf("departed member's ballot must not count: %+v", res)
	}
	if res.Absent < 0 {
		t.Fatalf("negative absent count: %d", res.Absent)
	}
	if res.Absent != 0 {
		t.Fatalf("counts must sum to present: %+v", res)
	}
}

func TestSecretBallotHidesChoices(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Voting.Kinds["mocao"] = config.VotingPolicy{Majority: "simple", Secret: true}
	members := addMembers(t, env, 3)
	doc := registerDoc(t, env, "mocao", "MOC-200")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, m := range members {
		choice := "yes"
		if i == 2 {
			choice = "no"
		}
		if err := env.Engine.CastVote(env.Ctx, items[0].ID, m, choice, "tester"); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	// the roll call lists voters but never the member-to-choice mapping
	records, err := env.Engine.RollCall(env.Ctx, items[0].ID)
	if err != nil {
		t.Fatalf("roll call: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 voters on the roll, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Choice != "" {
			t.Fatalf("secret ballot leaked choice for %s", rec.MemberID)
		}
	}
	// the event log stays clean too
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT payload_json FROM events WHERE type='vote.cast' AND session_id=?`, s.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if strings.Contains(payload, `"choice"`) {
			t.Fatalf("vote.cast event leaked choice: %s", payload)
		}
	}
	// the tally itself is still public
	res, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Yes != 2 || res.No != 1 || !res.Secret {
		t.Fatalf("unexpected secret tally: %+v", res)
	}
}

func TestOpenBallotRollCallShowsChoices(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 3)
	doc := registerDoc(t, env, "projeto_lei", "PL-711")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := env.Engine.CastVote(env.Ctx, items[0].ID, members[0], "yes", "tester"); err != nil {
		t.Fatalf("cast: %v", err)
	}
	records, err := env.Engine.RollCall(env.Ctx, items[0].ID)
	if err != nil {
		t.Fatalf("roll call: %v", err)
	}
	if len(records) != 1 || records[0].Choice != "yes" {
		t.Fatalf("open ballot shows choices: %+v", records)
	}
}
