// Package router decides the next step of a case from its state alone.
//
// Decide is a pure function of the CaseState and the router's retry limit.
// It never mutates the state; the orchestrator executes the returned Directive.
package router

import (
	"fmt"
	"slices"

	"wealthcheck/internal/casework/models"
)

// DefaultRetryLimit is how many times a failed check is re-run before the case fails.
const DefaultRetryLimit = 2

// Directive is the router's instruction. It is a closed set: RunCheck,
// OpenReview, Advance and Fail.
type Directive interface {
	directive()
	String() string
}

// RunCheck asks the orchestrator to execute a check.
type RunCheck struct {
	Kind models.CheckKind
}

// OpenReview asks the orchestrator to suspend the case for a reviewer.
type OpenReview struct {
	Kind    models.CheckKind
	Reasons []string
}

// Advance means every required check is resolved; proceed to synthesis.
type Advance struct{}

// Fail terminates the case.
type Fail struct {
	Reason string
}

func (RunCheck) directive()   {}
func (OpenReview) directive() {}
func (Advance) directive()    {}
func (Fail) directive()       {}

func (d RunCheck) String() string   { return "run_check:" + string(d.Kind) }
func (d OpenReview) String() string { return "open_review:" + string(d.Kind) }
func (Advance) String() string      { return "advance" }
func (d Fail) String() string       { return "fail:" + d.Reason }

// Name returns the directive type without its argument, for metrics labels.
func Name(d Directive) string {
	switch d.(type) {
	case RunCheck:
		return "run_check"
	case OpenReview:
		return "open_review"
	case Advance:
		return "advance"
	case Fail:
		return "fail"
	}
	return "unknown"
}

// Router holds the routing policy.
type Router struct {
	retryLimit int
}

// Option configures a Router.
type Option func(*Router)

// WithRetryLimit sets how many re-runs a failing check gets after its first attempt.
func WithRetryLimit(n int) Option {
	return func(r *Router) {
		if n >= 0 {
			r.retryLimit = n
		}
	}
}

// New creates a Router.
func New(opts ...Option) *Router {
	r := &Router{retryLimit: DefaultRetryLimit}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxAttempts is the total number of executions a check may have.
func (r *Router) MaxAttempts() int {
	return r.retryLimit + 1
}

// InitialPlan seeds a new case's plan. Identity is always planned and first;
// the rest follow the fixed priority order. Unknown and duplicate kinds are dropped.
func (r *Router) InitialPlan(requested []models.CheckKind) []models.CheckKind {
	if len(requested) == 0 {
		return models.AllCheckKinds()
	}
	plan := []models.CheckKind{models.CheckIdentity}
	for _, k := range requested {
		if k.IsValid() && !slices.Contains(plan, k) {
			plan = append(plan, k)
		}
	}
	models.SortByPriority(plan)
	return plan
}

// Decide returns the next directive for a running case.
func (r *Router) Decide(state *models.CaseState) Directive {
	if state.Status.IsTerminal() {
		return Fail{Reason: fmt.Sprintf("case is already %s", state.Status)}
	}

	// Identity gates everything else.
	if d, blocked := r.decideIdentity(state); blocked {
		return d
	}

	for _, kind := range state.Plan {
		if kind == models.CheckIdentity {
			continue
		}
		res, done := state.Checks[kind]
		if !done {
			return r.runOrFail(state, kind)
		}
		if _, reviewed := state.Approvals[kind]; res.NeedsReview() && !reviewed {
			return OpenReview{Kind: kind, Reasons: res.ReviewReasons(kind)}
		}
	}
	return Advance{}
}

// decideIdentity returns blocked=true while identity is unresolved.
func (r *Router) decideIdentity(state *models.CaseState) (Directive, bool) {
	res, done := state.Checks[models.CheckIdentity]
	approval, reviewed := state.Approvals[models.CheckIdentity]

	switch {
	case reviewed && !approval.Approved:
		return Fail{Reason: "identity rejected by reviewer"}, true
	case !done && !reviewed:
		return r.runOrFail(state, models.CheckIdentity), true
	case done && res.NeedsReview() && !reviewed:
		return OpenReview{Kind: models.CheckIdentity, Reasons: res.ReviewReasons(models.CheckIdentity)}, true
	}
	return nil, false
}

// runOrFail reissues RunCheck while the retry budget lasts.
func (r *Router) runOrFail(state *models.CaseState, kind models.CheckKind) Directive {
	f, failed := state.Failures[kind]
	if failed && (f.Exhausted || f.Attempts >= r.MaxAttempts()) {
		return Fail{Reason: fmt.Sprintf("check %s failed after %d attempts: %s", kind, f.Attempts, f.LastError)}
	}
	return RunCheck{Kind: kind}
}
