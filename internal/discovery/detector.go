package discovery

import (
	"strings"

	"solana-pool-sentinel/internal/solana"
)

// DefaultInstruction is the Raydium AMM v4 pool creation instruction.
const DefaultInstruction = "initialize2"

// Detector decides whether a log notification reports a new pool.
type Detector interface {
	Detect(n solana.LogNotification) bool
}

// InstructionDetector matches successful transactions whose logs mention an
// instruction name.
type InstructionDetector struct {
	instruction string
}

// NewInstructionDetector creates a detector for instruction. An empty name
// selects DefaultInstruction.
func NewInstructionDetector(instruction string) *InstructionDetector {
	if instruction == "" {
		instruction = DefaultInstruction
	}
	return &InstructionDetector{instruction: instruction}
}

// Detect reports true when the transaction succeeded, some log line names
// the instruction without an error marker, and the final line reports success.
func (d *InstructionDetector) Detect(n solana.LogNotification) bool {
	if n.Err != nil || len(n.Logs) == 0 {
		return false
	}

	matched := false
	for _, line := range n.Logs {
		if strings.Contains(line, d.instruction) && !strings.Contains(line, "Error:") {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	return strings.Contains(n.Logs[len(n.Logs)-1], "success")
}
