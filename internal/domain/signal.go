package domain

// Signal evaluated strategy conditions for the most recent candle.
type Signal struct {
	Entry bool `json:"entry"`
	Exit  bool `json:"exit"`
}

// ExitReason why a position is being closed.
type ExitReason string

const (
	ExitReasonNone       ExitReason = ""
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonTakeProfit ExitReason = "take_profit"
	ExitReasonSignal     ExitReason = "exit_signal"
)
