package deriv

import (
	"encoding/json"
	"fmt"
)

// APIError is the error object the brokerage attaches to a failed response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deriv api error %s: %s", e.Code, e.Message)
}

// envelope is the common shape of every inbound frame. Responses echo the
// req_id of the request they answer; stream frames carry a subscription id.
type envelope struct {
	MsgType      string          `json:"msg_type"`
	ReqID        int64           `json:"req_id,omitempty"`
	Error        *APIError       `json:"error,omitempty"`
	Subscription *subscriptionID `json:"subscription,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

type subscriptionID struct {
	ID string `json:"id"`
}

// AccountInfo is the authorize response payload the engine keeps
type AccountInfo struct {
	LoginID            string   `json:"loginid"`
	Balance            float64  `json:"balance"`
	Currency           string   `json:"currency"`
	IsVirtual          int      `json:"is_virtual"`
	LandingCompanyName string   `json:"landing_company_name"`
	Email              string   `json:"email"`
	Scopes             []string `json:"scopes,omitempty"`
}

type authorizeResponse struct {
	Authorize *AccountInfo `json:"authorize"`
}

// Candle is one OHLC bar from ticks_history. The brokerage does not report
// volume for synthetic indices, so Volume stays zero unless a caller fills it.
type Candle struct {
	Epoch  int64   `json:"epoch"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

type candlesResponse struct {
	Candles []Candle `json:"candles"`
}

// Tick is one spot quote from a ticks stream
type Tick struct {
	Symbol string  `json:"symbol"`
	Quote  float64 `json:"quote"`
	Epoch  int64   `json:"epoch"`
}

type tickResponse struct {
	Tick *Tick `json:"tick"`
}

// Proposal is the price quote returned before a contract purchase
type Proposal struct {
	ID       string  `json:"id"`
	AskPrice float64 `json:"ask_price"`
	Payout   float64 `json:"payout"`
	Spot     float64 `json:"spot"`
}

type proposalResponse struct {
	Proposal *Proposal `json:"proposal"`
}

// BuyResult is the confirmation for a purchased contract
type BuyResult struct {
	ContractID    int64   `json:"contract_id"`
	TransactionID int64   `json:"transaction_id"`
	BuyPrice      float64 `json:"buy_price"`
	Payout        float64 `json:"payout"`
	StartTime     int64   `json:"start_time"`
	Longcode      string  `json:"longcode"`
	Shortcode     string  `json:"shortcode"`
}

type buyResponse struct {
	Buy *BuyResult `json:"buy"`
}

// ContractStatus is the settlement view of an open or sold contract
type ContractStatus struct {
	ContractID   int64   `json:"contract_id"`
	Status       string  `json:"status"`
	IsSold       int     `json:"is_sold"`
	Profit       float64 `json:"profit"`
	BuyPrice     float64 `json:"buy_price"`
	SellPrice    float64 `json:"sell_price"`
	EntrySpot    float64 `json:"entry_spot"`
	ExitSpot     float64 `json:"exit_tick"`
	CurrentSpot  float64 `json:"current_spot"`
	DateExpiry   int64   `json:"date_expiry"`
	Longcode     string  `json:"longcode"`
	Shortcode    string  `json:"shortcode"`
	ContractType string  `json:"contract_type"`
}

type openContractResponse struct {
	ProposalOpenContract *ContractStatus `json:"proposal_open_contract"`
}

// ProfitTableEntry is one settled contract from the account history
type ProfitTableEntry struct {
	ContractID   int64   `json:"contract_id"`
	BuyPrice     float64 `json:"buy_price"`
	SellPrice    float64 `json:"sell_price"`
	Payout       float64 `json:"payout"`
	PurchaseTime int64   `json:"purchase_time"`
	SellTime     int64   `json:"sell_time"`
	Shortcode    string  `json:"shortcode"`
	Longcode     string  `json:"longcode"`
}

type profitTableResponse struct {
	ProfitTable *struct {
		Count        int                `json:"count"`
		Transactions []ProfitTableEntry `json:"transactions"`
	} `json:"profit_table"`
}
