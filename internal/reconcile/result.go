package reconcile

// Status is the overall outcome of one reconciliation cycle.
type Status int

const (
	// Success indicates every hostname chain converged
	Success Status = iota
	// Partial indicates some hostname chains converged and some failed
	Partial
	// Failure indicates every hostname chain failed
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Partial:
		return "partial"
	case Failure:
		return "failure"
	}
	return "unknown"
}

// HostOutcome is the per-hostname apply result. A nil Err means the
// hostname's whole chain converged.
type HostOutcome struct {
	Hostname string
	Err      error
}

// Result reports one cycle: the computed plan, what each hostname did,
// and whether the agent was bounced.
type Result struct {
	CycleID   string
	Plan      *Plan
	Outcomes  []HostOutcome
	Restarted bool
	// RestartErr records a failed agent bounce; chain outcomes are
	// unaffected but the cycle is not a full success.
	RestartErr error
	Status     Status
}

// Failed returns the hostnames whose chains did not converge.
func (r *Result) Failed() (hosts []string) {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			hosts = append(hosts, o.Hostname)
		}
	}
	return
}

// Converged returns the hostnames whose chains fully applied.
func (r *Result) Converged() (hosts []string) {
	for _, o := range r.Outcomes {
		if o.Err == nil {
			hosts = append(hosts, o.Hostname)
		}
	}
	return
}

func overallStatus(outcomes []HostOutcome) Status {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	switch {
	case failed == 0:
		return Success
	case failed == len(outcomes):
		return Failure
	}
	return Partial
}
