package models

// PhaseChange is the event pushed to every connected client when the
// coordinator enters a new phase. Clients key their behavior off NewPhase;
// the rest is advisory context for wallets and dashboards.
type PhaseChange struct {
	NewPhase     string `json:"newPhase"`
	Message      string `json:"message"`
	RoundID      uint64 `json:"roundId"`
	Denomination int64  `json:"denomination"` // in Satoshis
	Fallback     bool   `json:"fallback"`
}

// RoundStatus is the public snapshot of the current round served by the API.
type RoundStatus struct {
	RoundID           uint64 `json:"roundId"`
	Phase             string `json:"phase"`
	Accepting         bool   `json:"accepting"`
	Fallback          bool   `json:"fallback"`
	Denomination      int64  `json:"denomination"` // in Satoshis
	FeePerInput       int64  `json:"feePerInput"`
	FeePerOutput      int64  `json:"feePerOutput"`
	AnonymityTarget   int    `json:"anonymityTarget"`
	RegisteredInputs  int    `json:"registeredInputs"`
	RegisteredOutputs int    `json:"registeredOutputs"`
}

// RoundSummary is the audit row emitted when a round ends. It is a
// fire-and-forget record for operators; round state itself never leaves
// coordinator memory.
type RoundSummary struct {
	RoundID             uint64 `json:"roundId"`
	Completed           bool   `json:"completed"`
	Fallback            bool   `json:"fallback"`
	AliceCount          int    `json:"aliceCount"`
	BobCount            int    `json:"bobCount"`
	Denomination        int64  `json:"denomination"` // in Satoshis
	InputRegistrationMs int64  `json:"inputRegistrationMs"`
	CoinJoinTxid        string `json:"coinjoinTxid,omitempty"`
}
