package api

import (
	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/events"
)

// ==============================
// REST Response Types
// ==============================

// OrderView is a stored order: its packed words plus a decoded rendering.
// Amounts and prices are decimal strings in 18-decimal units.
type OrderView struct {
	ID      uint64   `json:"id"`
	Type    string   `json:"type"`
	Status  string   `json:"status"`
	Pending bool     `json:"pending"`
	Record  []string `json:"record"`
	Hash    string   `json:"hash"`

	Account       string `json:"account"`
	SubAccountID  string `json:"subAccountId,omitempty"`
	CollateralID  *uint8 `json:"collateralId,omitempty"`
	AssetID       *uint8 `json:"assetId,omitempty"`
	IsLong        *bool  `json:"isLong,omitempty"`
	Collateral    string `json:"collateral,omitempty"`
	Size          string `json:"size,omitempty"`
	Price         string `json:"price,omitempty"`
	Amount        string `json:"amount,omitempty"`
	ProfitTokenID *uint8 `json:"profitTokenId,omitempty"`
	IsOpen        *bool  `json:"isOpen,omitempty"`
	IsMarket      *bool  `json:"isMarket,omitempty"`
	WithdrawAll   *bool  `json:"withdrawAllIfEmpty,omitempty"`
	IsBuy         *bool  `json:"isBuy,omitempty"`
	IsAdding      *bool  `json:"isAdding,omitempty"`
	IsProfit      *bool  `json:"isProfit,omitempty"`

	EscrowToken string `json:"escrowToken,omitempty"` // held in custody while pending
	Escrow      string `json:"escrow,omitempty"`
}

// OrderList is the response of GET /api/v1/orders
type OrderList struct {
	Type   string      `json:"type"`
	Total  int         `json:"total"` // pending orders of the type
	Begin  int         `json:"begin"`
	End    int         `json:"end"`
	Orders []OrderView `json:"orders"`
}

// Stats summarizes the book
type Stats struct {
	OrderCount uint64         `json:"orderCount"`
	Pending    map[string]int `json:"pending"` // by order type
	Brokers    []string       `json:"brokers"`
}

// Balance is one ledger balance in token units
type Balance struct {
	Token   string `json:"token"`
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
	Balance string `json:"balance"`
	Raw     string `json:"raw"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage wraps everything the hub sends
type WSMessage struct {
	Type    string      `json:"type"` // "order", "subscribed", "unsubscribed"
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "orders" or "orders:<type>"
}

// ChannelAll receives every order event
const ChannelAll = "orders"

// ChannelFor is the per-type channel, e.g. "orders:liquidity"
func ChannelFor(t string) string { return ChannelAll + ":" + t }

func orderView(rec order.Record, status order.Status, pending bool) OrderView {
	v := OrderView{
		ID:      rec.ID(),
		Type:    rec.Type().String(),
		Status:  status.String(),
		Pending: pending,
		Record:  rec.Words(),
		Hash:    rec.Hash().Hex(),
	}
	o, err := order.Decode(rec)
	if err != nil {
		return v
	}
	v.Account = o.Owner().Hex()

	switch o := o.(type) {
	case *order.PositionOrder:
		v.SubAccountID = o.SubAccountID.Hex()
		v.CollateralID = u8(o.SubAccountID.CollateralID())
		v.AssetID = u8(o.SubAccountID.AssetID())
		v.IsLong = flag(o.SubAccountID.IsLong())
		v.Collateral = FormatUnits(o.Collateral, Decimals)
		v.Size = FormatUnits(o.Size, Decimals)
		v.Price = FormatUnits(o.Price, Decimals)
		v.ProfitTokenID = u8(o.ProfitTokenID)
		v.IsOpen = flag(o.IsOpen())
		v.IsMarket = flag(o.IsMarketOrder())
		v.WithdrawAll = flag(o.WithdrawAllIfEmpty())
		v.IsBuy = flag(o.IsBuy())
	case *order.LiquidityOrder:
		v.AssetID = u8(o.AssetID)
		v.Amount = FormatUnits(o.Amount, Decimals)
		v.IsAdding = flag(o.IsAdding)
	case *order.WithdrawalOrder:
		v.SubAccountID = o.SubAccountID.Hex()
		v.CollateralID = u8(o.SubAccountID.CollateralID())
		v.AssetID = u8(o.SubAccountID.AssetID())
		v.IsLong = flag(o.SubAccountID.IsLong())
		v.Amount = FormatUnits(o.Amount, Decimals)
		v.ProfitTokenID = u8(o.ProfitTokenID)
		v.IsProfit = flag(o.IsProfit)
	}
	return v
}

func u8(v uint8) *uint8 { return &v }
func flag(v bool) *bool { return &v }

// eventMessage is what websocket subscribers receive for a book event
func eventMessage(channel string, ev events.Event) WSMessage {
	return WSMessage{Type: "order", Channel: channel, Data: ev}
}
