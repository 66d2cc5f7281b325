package models

// LockupState is the persisted form of a lockup.
// Cache key: lockup address
type LockupState struct {
	Address            string         `msgpack:"address"`
	Admin              string         `msgpack:"admin"`
	Claimer            string         `msgpack:"claimer"`
	Initialized        bool           `msgpack:"init"`
	JettonWallet       string         `msgpack:"jw,omitempty"`
	CliffEndDate       uint32         `msgpack:"cliff_end,omitempty"`
	CliffNumerator     uint16         `msgpack:"cliff_num,omitempty"`
	CliffDenominator   uint16         `msgpack:"cliff_den,omitempty"`
	VestingPeriod      uint32         `msgpack:"period,omitempty"`
	VestingNumerator   uint16         `msgpack:"vest_num,omitempty"`
	VestingDenominator uint16         `msgpack:"vest_den,omitempty"`
	UnlocksCount       uint16         `msgpack:"unlocks,omitempty"`
	OriginalBalance    string         `msgpack:"original,omitempty"`
	TokenBalance       string         `msgpack:"balance,omitempty"`
	TokenClaimed       string         `msgpack:"claimed,omitempty"`
	LastClaimed        uint32         `msgpack:"last_claimed,omitempty"`
	Pending            []PendingClaim `msgpack:"pending,omitempty"`
	Seqno              uint64         `msgpack:"seqno"`
}

type PendingClaim struct {
	TransferID     uint64 `msgpack:"tid" json:"transfer_id"`
	QueryID        uint64 `msgpack:"qid" json:"query_id"`
	Amount         string `msgpack:"amount" json:"amount"`
	ClaimedAt      uint32 `msgpack:"at" json:"claimed_at"`
	PriorLastClaim uint32 `msgpack:"prior" json:"prior_last_claimed"`
}

// ClaimRecord is a single entry of the claim history.
type ClaimRecord struct {
	Lockup     string `msgpack:"lockup" json:"lockup"`
	Seqno      uint64 `msgpack:"seqno" json:"seqno"`
	Kind       string `msgpack:"kind" json:"kind"`
	QueryID    uint64 `msgpack:"qid" json:"query_id"`
	TransferID uint64 `msgpack:"tid" json:"transfer_id"`
	Amount     string `msgpack:"amount" json:"amount"`
	At         uint32 `msgpack:"at" json:"at"`
}

type LockupData struct {
	Init           bool   `json:"init"`
	AdminAddress   string `json:"admin_address"`
	ClaimerAddress string `json:"claimer_address"`
	TokenBalance   string `json:"token_balance"`
	TokenClaimed   string `json:"token_claimed"`
	LastClaimed    uint32 `json:"last_claimed"`
}

type VestingData struct {
	JettonWalletAddress string `json:"jetton_wallet_address"`
	CliffEndDate        uint32 `json:"cliff_end_date"`
	CliffNumerator      uint16 `json:"cliff_numerator"`
	CliffDenominator    uint16 `json:"cliff_denominator"`
	VestingPeriod       uint32 `json:"vesting_period"`
	VestingNumerator    uint16 `json:"vesting_numerator"`
	VestingDenominator  uint16 `json:"vesting_denominator"`
	CliffUnlockAmount   string `json:"cliff_unlock_amount"`
	VestingUnlockAmount string `json:"vesting_unlock_amount"`
	UnlocksCount        uint16 `json:"unlocks_count"`
}

type Unlock struct {
	At       uint64 `json:"at"`
	Amount   string `json:"amount"`
	Unlocked string `json:"unlocked"`
}

type DeployRequest struct {
	Admin   string `json:"admin"`
	Claimer string `json:"claimer"`
}

type DeployResponse struct {
	Lockup string `json:"lockup"`
}

// MessageRequest is an internal message delivered to a lockup. Either Boc
// holds a whole serialized internal message, or the message is assembled
// from Source, Value (nanotons), Bounced and Body (base64 BOC of the body).
// The lockup always handles it at the server's clock.
type MessageRequest struct {
	Lockup  string `json:"lockup"`
	Boc     string `json:"boc"`
	Source  string `json:"source"`
	Value   string `json:"value"`
	Bounced bool   `json:"bounced"`
	Body    string `json:"body"`
}

type OutMessage struct {
	Destination string `json:"destination"`
	Value       string `json:"value"`
	Bounce      bool   `json:"bounce"`
	Body        string `json:"body"`
}

type Event struct {
	Kind       string `json:"kind"`
	Seqno      uint64 `json:"seqno"`
	QueryID    uint64 `json:"query_id"`
	TransferID uint64 `json:"transfer_id"`
	Amount     string `json:"amount"`
	At         uint32 `json:"at"`
}

type MessageResponse struct {
	Out    []OutMessage `json:"out_msgs"`
	Events []Event      `json:"events"`
}

type ValueResponse struct {
	Value string `json:"value"`
}

type RequestError struct {
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code,omitempty"`
}

type StreamOperation string

const (
	OpSubscribe   StreamOperation = "subscribe"
	OpUnsubscribe StreamOperation = "unsubscribe"
	OpPing        StreamOperation = "ping"
)

// StreamRequest is a client frame of the event stream.
type StreamRequest struct {
	ID        *string         `json:"id,omitempty"`
	Operation StreamOperation `json:"operation"`
	Lockups   []string        `json:"lockups"`
}

type StreamStatus struct {
	ID     *string `json:"id,omitempty"`
	Status string  `json:"status,omitempty"`
	Error  string  `json:"error,omitempty"`
}
