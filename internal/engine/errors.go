package engine

import "fmt"

// Rule error codes. Every code maps to one business-rule violation the
// operator must resolve; none are retryable.
const (
	CodeInvalidTransition  = "invalid_transition"
	CodePrecursorNotMet    = "precursor_not_met"
	CodeNoQuorum           = "no_quorum"
	CodeNotEligible        = "not_eligible"
	CodeVotingClosed       = "voting_closed"
	CodeDuplicateItem      = "duplicate_item"
	CodeInvalidOrderingSet = "invalid_ordering_set"
	CodeImmutable          = "immutable"
	CodeEmptyAgenda        = "empty_agenda"
	CodeConflictingState   = "conflicting_state"
)

// RuleError is a synchronous business-rule rejection carrying enough
// structure for the API layer to render a user-facing message.
type RuleError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e RuleError) Error() string { return e.Message }

func ruleErr(code, format string, args ...any) RuleError {
	return RuleError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e RuleError) withDetail(key string, value any) RuleError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func conflictErr(entity, id string) RuleError {
	return ruleErr(CodeConflictingState, "%s %s changed concurrently; re-read and retry the operation", entity, id)
}
