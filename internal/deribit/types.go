package deribit

import (
	"encoding/json"
	"fmt"
)

// rpcRequest is the JSON-RPC 2.0 envelope Deribit's v2 API expects.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int64  `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *APIError       `json:"error"`
}

// APIError is a server-reported application error.
type APIError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deribit api error [%d]: %s", e.Code, e.Message)
}

// Position is one normalized account option position. Size is always a
// magnitude; Direction carries the original sign.
type Position struct {
	InstrumentName string
	Kind           string
	Direction      string // "buy" or "sell"
	Size           float64
	MarkIV         float64
	Gamma          float64
	Delta          float64
	Theta          float64
	Vega           float64
}

// DvolObservation is the volatility index closing value of the most recent
// bucket, with its instant as Unix seconds.
type DvolObservation struct {
	Value     float64
	Timestamp float64
}

// DvolBucket is one OHLC bucket of the volatility index history.
type DvolBucket struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
}

// OpenOrder is a resting order on the account.
type OpenOrder struct {
	OrderID        string
	InstrumentName string
	Direction      string
	Price          float64
	Amount         float64
	Filled         float64
	Remaining      float64
	OrderType      string
	OrderState     string
	TimeInForce    string
	Kind           string
	CreatedAtMs    int64
	UpdatedAtMs    int64
}

type greeksRecord struct {
	Gamma float64 `json:"gamma"`
	Delta float64 `json:"delta"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

type positionRecord struct {
	InstrumentName string        `json:"instrument_name"`
	Kind           string        `json:"kind"`
	Size           float64       `json:"size"`
	MarkIV         float64       `json:"mark_iv"`
	Gamma          float64       `json:"gamma"`
	Delta          float64       `json:"delta"`
	Theta          float64       `json:"theta"`
	Vega           float64       `json:"vega"`
	Greeks         *greeksRecord `json:"greeks"`
}

type orderBookResult struct {
	InstrumentName string        `json:"instrument_name"`
	Greeks         *greeksRecord `json:"greeks"`
}

type orderRecord struct {
	OrderID             string  `json:"order_id"`
	InstrumentName      string  `json:"instrument_name"`
	Direction           string  `json:"direction"`
	Price               float64 `json:"price"`
	Amount              float64 `json:"amount"`
	FilledAmount        float64 `json:"filled_amount"`
	OrderType           string  `json:"order_type"`
	OrderState          string  `json:"order_state"`
	TimeInForce         string  `json:"time_in_force"`
	Kind                string  `json:"kind"`
	CreationTimestamp   int64   `json:"creation_timestamp"`
	LastUpdateTimestamp int64   `json:"last_update_timestamp"`
}

type authResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type volatilityIndexResult struct {
	Data         [][]float64 `json:"data"`
	Continuation *int64      `json:"continuation"`
}

// listOrSingle tolerates endpoints that return either a JSON array or a
// single object for one-element results.
func listOrSingle[T any](raw json.RawMessage) ([]T, error) {
	var list []T
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single T
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []T{single}, nil
}
