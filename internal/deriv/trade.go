package deriv

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// TradeRequest describes one binary contract purchase
type TradeRequest struct {
	Symbol       string
	ContractType string // CALL or PUT
	Amount       float64
	Currency     string
	Duration     int
	DurationUnit string // s, m, h
}

// ExecuteTrade runs the two-step purchase: request a price proposal, then buy
// the proposed contract at the stake. A nil result with nil error means the
// brokerage declined at either step; callers treat it as a skipped trade, not
// a fault.
func (c *Client) ExecuteTrade(ctx context.Context, req TradeRequest) (*BuyResult, error) {
	if !c.IsAuthorized() {
		return nil, ErrNotAuthorized
	}

	currency := req.Currency
	if currency == "" {
		if acct := c.Account(); acct != nil {
			currency = acct.Currency
		} else {
			currency = "USD"
		}
	}

	proposal, err := c.getProposal(ctx, req, currency)
	if err != nil {
		c.logger.Warn("proposal rejected", "symbol", req.Symbol, "type", req.ContractType, "error", err.Error())
		return nil, nil
	}

	result, err := c.buy(ctx, proposal.ID, req.Amount)
	if err != nil {
		c.logger.Warn("buy rejected", "symbol", req.Symbol, "proposal", proposal.ID, "error", err.Error())
		return nil, nil
	}

	c.logger.Info("contract purchased",
		"symbol", req.Symbol, "type", req.ContractType,
		"contract_id", strconv.FormatInt(result.ContractID, 10),
		"stake", req.Amount, "payout", result.Payout)
	return result, nil
}

func (c *Client) getProposal(ctx context.Context, req TradeRequest, currency string) (*Proposal, error) {
	payload := map[string]interface{}{
		"proposal":      1,
		"amount":        req.Amount,
		"basis":         "stake",
		"contract_type": req.ContractType,
		"currency":      currency,
		"duration":      req.Duration,
		"duration_unit": req.DurationUnit,
		"symbol":        req.Symbol,
	}

	raw, err := c.call(ctx, payload, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	var resp proposalResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse proposal response: %w", err)
	}
	if resp.Proposal == nil || resp.Proposal.ID == "" {
		return nil, fmt.Errorf("proposal response missing id")
	}
	return resp.Proposal, nil
}

// buy purchases a proposed contract. Price is the maximum acceptable cost;
// passing the stake means no slippage tolerance beyond the quote.
func (c *Client) buy(ctx context.Context, proposalID string, price float64) (*BuyResult, error) {
	payload := map[string]interface{}{
		"buy":   proposalID,
		"price": price,
	}

	raw, err := c.call(ctx, payload, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	var resp buyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse buy response: %w", err)
	}
	if resp.Buy == nil {
		return nil, fmt.Errorf("buy response missing contract")
	}
	return resp.Buy, nil
}

// GetContractStatus polls the settlement state of a contract
func (c *Client) GetContractStatus(ctx context.Context, contractID int64) (*ContractStatus, error) {
	payload := map[string]interface{}{
		"proposal_open_contract": 1,
		"contract_id":            contractID,
	}

	raw, err := c.call(ctx, payload, c.cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contract %d: %w", contractID, err)
	}

	var resp openContractResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse contract response: %w", err)
	}
	if resp.ProposalOpenContract == nil {
		return nil, fmt.Errorf("contract response missing payload")
	}
	return resp.ProposalOpenContract, nil
}

// GetProfitTable fetches the account's settled contract history, newest first
func (c *Client) GetProfitTable(ctx context.Context, limit int) ([]ProfitTableEntry, error) {
	if !c.IsAuthorized() {
		return nil, ErrNotAuthorized
	}
	if limit <= 0 {
		limit = 50
	}

	payload := map[string]interface{}{
		"profit_table": 1,
		"description":  1,
		"limit":        limit,
		"sort":         "DESC",
	}

	raw, err := c.call(ctx, payload, c.cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profit table: %w", err)
	}

	var resp profitTableResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse profit table response: %w", err)
	}
	if resp.ProfitTable == nil {
		return nil, fmt.Errorf("profit table response missing payload")
	}
	return resp.ProfitTable.Transactions, nil
}

// Balance returns the authorized account balance, or the fallback when the
// session has no account yet.
func (c *Client) Balance(fallback float64) float64 {
	if acct := c.Account(); acct != nil && acct.Balance > 0 {
		return acct.Balance
	}
	return fallback
}
