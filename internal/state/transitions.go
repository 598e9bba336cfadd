package state

// validTransitions lists the moves besides channel switches, which are always allowed.
var validTransitions = map[Phase][]Phase{
	PhaseNew: {
		PhaseEmailPending,
	},
	PhaseEmailPending: {
		PhaseEmailConfirmed,
		PhaseEmailFailed,
	},
	PhaseEmailConfirmed: {
		PhaseEmailFailed,
	},
	PhaseEmailFailed: {
		PhaseEmailConfirmed,
	},
	PhaseTelegramPending: {
		PhaseTelegramConfirmed,
		PhaseTelegramFailed,
	},
	PhaseTelegramConfirmed: {
		PhaseTelegramPending,
		PhaseTelegramFailed,
	},
	PhaseTelegramFailed: {
		PhaseTelegramConfirmed,
	},
}

// switchTargets are reachable from any existing row.
var switchTargets = []Phase{
	PhaseEmailConfirmed,
	PhaseTelegramPending,
	PhaseDisabled,
}

// IsTransitionAllowed reports whether moving from one phase to another is valid.
func IsTransitionAllowed(from, to Phase) bool {
	if from == to && from != PhaseNew {
		return true
	}

	if from != PhaseNew {
		for _, target := range switchTargets {
			if target == to {
				return true
			}
		}
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}
