package strategy

type CycleState string

type CycleEvent string

const (
	StateIdle       CycleState = "IDLE"
	StateOpening    CycleState = "OPENING"
	StateHolding    CycleState = "HOLDING"
	StateEvaluating CycleState = "EVALUATING"
	StateClosing    CycleState = "CLOSING"
	StateDelay      CycleState = "DELAY"
	StateTerminated CycleState = "TERMINATED"
)

const (
	EventOpen         CycleEvent = "OPEN"
	EventHedgeOpened  CycleEvent = "HEDGE_OPENED"
	EventHoldElapsed  CycleEvent = "HOLD_ELAPSED"
	EventEvaluated    CycleEvent = "EVALUATED"
	EventClosed       CycleEvent = "CLOSED"
	EventDelayElapsed CycleEvent = "DELAY_ELAPSED"
	// EventError forces the close path from any position-holding state.
	EventError CycleEvent = "ERROR"
	// EventLossLimit ends the session after the cumulative loss limit is hit.
	EventLossLimit CycleEvent = "LOSS_LIMIT"
)
