// internal/model/exit.go
package model

// Phase is the hold-time derived stage of an open position.
type Phase string

const (
	PhaseMirror        Phase = "mirror"
	PhaseLossProtect   Phase = "loss_protect"
	PhaseIndependent   Phase = "independent"
	PhaseForced        Phase = "forced"
	PhaseDataIntegrity Phase = "data_integrity"
)

// ExitReason tags the trigger that closed (or would close) a position.
type ExitReason string

const (
	ReasonNone          ExitReason = ""
	ReasonForceExit     ExitReason = "force_exit"
	ReasonMirrorSell    ExitReason = "mirror_sell"
	ReasonLossProtect   ExitReason = "loss_protect"
	ReasonStopLoss      ExitReason = "stop_loss"
	ReasonTrailingStop  ExitReason = "trailing_stop"
	ReasonTakeProfit    ExitReason = "take_profit"
	ReasonMaxHold       ExitReason = "max_hold"
	ReasonDataIntegrity ExitReason = "data_integrity"
)

// Exit priorities, highest wins attribution.
const (
	PriorityForce        = 100
	PriorityMirror       = 90
	PriorityLossProtect  = 80
	PriorityStopLoss     = 70
	PriorityTrailingStop = 60
	PriorityTakeProfit   = 50
	PriorityMaxHold      = 40
)

// ExitDecision is produced fresh on every evaluation cycle.
type ExitDecision struct {
	ShouldExit  bool
	Phase       Phase
	Reason      ExitReason
	Description string
	Priority    int
}

// Hold returns a no-exit decision for the given phase.
func Hold(phase Phase, description string) ExitDecision {
	return ExitDecision{Phase: phase, Description: description}
}
