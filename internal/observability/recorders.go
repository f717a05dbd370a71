package observability

import "time"

// Transition records one RequestTransition outcome.
func (m *Metrics) Transition(stage, action, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.transitions.Inc(stage, action, result)
	m.transitionLatency.Observe(d.Seconds(), stage, action)
}

func (m *Metrics) BlockedUnit() {
	if m == nil {
		return
	}
	m.blockedUnits.Inc()
}

func (m *Metrics) SupervisorOverride() {
	if m == nil {
		return
	}
	m.supervisorOverride.Inc()
}

func (m *Metrics) LockClaim(result string) {
	if m == nil {
		return
	}
	m.lockClaims.Inc(result)
}

func (m *Metrics) Reconciled(reconciled, skipped, alreadyHeld int) {
	if m == nil {
		return
	}
	m.reconcileUnits.Add(float64(reconciled), "reconciled")
	m.reconcileUnits.Add(float64(skipped), "skipped")
	m.reconcileUnits.Add(float64(alreadyHeld), "already_held")
}

func (m *Metrics) AuditWrite(result string, rows int) {
	if m == nil {
		return
	}
	m.auditWrites.Inc(result)
	m.auditRows.Add(float64(rows), result)
}

func (m *Metrics) AuditRetry() {
	if m == nil {
		return
	}
	m.auditRetries.Inc()
}
