package strategy

import "sync"

// StateMachine tracks one session's cycle state. Invalid events leave the
// state unchanged.
type StateMachine struct {
	mu    sync.Mutex
	state CycleState
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

func (s *StateMachine) Apply(event CycleEvent) CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func (s *StateMachine) State() CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) SetState(state CycleState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func nextState(current CycleState, event CycleEvent) CycleState {
	switch event {
	case EventError:
		// Errors while a position may be open force an immediate close;
		// a failure during the close itself ends the session.
		switch current {
		case StateOpening, StateHolding, StateEvaluating:
			return StateClosing
		case StateClosing:
			return StateTerminated
		case StateIdle, StateDelay:
			return StateTerminated
		}
		return current
	case EventLossLimit:
		switch current {
		case StateClosing, StateDelay, StateIdle:
			return StateTerminated
		}
		return current
	}

	switch current {
	case StateIdle:
		if event == EventOpen {
			return StateOpening
		}
	case StateOpening:
		if event == EventHedgeOpened {
			return StateHolding
		}
	case StateHolding:
		if event == EventHoldElapsed {
			return StateEvaluating
		}
	case StateEvaluating:
		if event == EventEvaluated {
			return StateClosing
		}
	case StateClosing:
		if event == EventClosed {
			return StateDelay
		}
	case StateDelay:
		if event == EventDelayElapsed {
			return StateIdle
		}
	}
	return current
}
