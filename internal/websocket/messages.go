package websocket

import (
	"time"

	"tradecore/internal/models"
)

// MessageType identifies the payload shape of a WebSocket frame.
type MessageType string

const (
	// MessageTypePositionUpdate reports a single-leg position's current
	// state — sent whenever the trade loop re-prices an open position.
	MessageTypePositionUpdate MessageType = "positionUpdate"

	// MessageTypePairUpdate reports a pair position's current spread and
	// unrealized P&L.
	MessageTypePairUpdate MessageType = "pairUpdate"

	// MessageTypeNotification carries a Notifier event: trade open/close,
	// stop-loss, take-profit, alerts.
	MessageTypeNotification MessageType = "notification"

	// MessageTypeBalanceUpdate reports one exchange's current balance.
	MessageTypeBalanceUpdate MessageType = "balanceUpdate"
)

// BaseMessage is embedded in every outbound message.
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// PositionUpdateMessage reports a single-leg position's live state.
type PositionUpdateMessage struct {
	BaseMessage
	Data *PositionUpdateData `json:"data"`
}

// PositionUpdateData is the position fields a UI needs to render without
// reaching into the Durable Store directly.
type PositionUpdateData struct {
	PositionID  string  `json:"position_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Status      string  `json:"status"`
	EntryPrice  float64 `json:"entry_price"`
	Quantity    float64 `json:"quantity"`
	CurrentMark float64 `json:"current_mark"`
	UnrealizedPnlPct float64 `json:"unrealized_pnl_pct"`
	RealizedPnl float64 `json:"realized_pnl"`
}

// NewPositionUpdateMessage builds a PositionUpdateMessage from a Position
// and the mark price it was last evaluated against.
func NewPositionUpdateMessage(p *models.Position, markPrice float64) *PositionUpdateMessage {
	return &PositionUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypePositionUpdate, Timestamp: time.Now()},
		Data: &PositionUpdateData{
			PositionID:       p.ID,
			Symbol:           p.Symbol,
			Side:             string(p.Side),
			Status:           string(p.Status),
			EntryPrice:       p.EntryPrice,
			Quantity:         p.Quantity,
			CurrentMark:      markPrice,
			UnrealizedPnlPct: p.UnrealizedPnlPct(markPrice),
			RealizedPnl:      p.RealizedPnl,
		},
	}
}

// PairUpdateMessage reports a pair position's live spread state.
type PairUpdateMessage struct {
	BaseMessage
	PairID string          `json:"pair_id"`
	Data   *PairUpdateData `json:"data"`
}

// PairUpdateData mirrors the subset of PairPosition a UI renders live.
type PairUpdateData struct {
	Symbol1       string  `json:"symbol1"`
	Symbol2       string  `json:"symbol2"`
	Direction     string  `json:"direction"`
	Status        string  `json:"status"`
	EntryZScore   float64 `json:"entry_z_score"`
	HedgeRatio    float64 `json:"hedge_ratio"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	RealizedPnl   float64 `json:"realized_pnl"`
}

// NewPairUpdateMessage builds a PairUpdateMessage from a PairPosition.
func NewPairUpdateMessage(pp *models.PairPosition) *PairUpdateMessage {
	return &PairUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypePairUpdate, Timestamp: time.Now()},
		PairID:      pp.PairID,
		Data: &PairUpdateData{
			Symbol1:       pp.Symbol1,
			Symbol2:       pp.Symbol2,
			Direction:     string(pp.Direction),
			Status:        string(pp.Status),
			EntryZScore:   pp.EntryZScore,
			HedgeRatio:    pp.HedgeRatio,
			UnrealizedPnl: pp.UnrealizedPnl,
			RealizedPnl:   pp.RealizedPnl,
		},
	}
}

// NotificationMessage wraps one Notifier event for delivery over the
// stream.
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData is the wire shape of a models.Notification.
type NotificationData struct {
	ID         int                    `json:"id"`
	Type       string                 `json:"type"`
	Severity   string                 `json:"severity"`
	PositionID string                 `json:"position_id,omitempty"`
	PairID     string                 `json:"pair_id,omitempty"`
	Message    string                 `json:"message"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// NewNotificationMessage builds a NotificationMessage from a
// models.Notification.
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeNotification, Timestamp: time.Now()},
		Data: &NotificationData{
			ID:         n.ID,
			Type:       n.Type,
			Severity:   n.Severity,
			PositionID: n.PositionID,
			PairID:     n.PairID,
			Message:    n.Message,
			Meta:       n.Meta,
			Timestamp:  n.Timestamp,
		},
	}
}

// BalanceUpdateMessage reports one exchange's current balance.
type BalanceUpdateMessage struct {
	BaseMessage
	Exchange string  `json:"exchange"`
	Balance  float64 `json:"balance"`
}

// NewBalanceUpdateMessage builds a BalanceUpdateMessage.
func NewBalanceUpdateMessage(exchange string, balance float64) *BalanceUpdateMessage {
	return &BalanceUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeBalanceUpdate, Timestamp: time.Now()},
		Exchange:    exchange,
		Balance:     balance,
	}
}

// AllBalancesUpdateMessage carries every tracked exchange's balance at
// once, used on a client's initial connection.
type AllBalancesUpdateMessage struct {
	BaseMessage
	Balances map[string]float64 `json:"balances"`
}

// NewAllBalancesUpdateMessage builds an AllBalancesUpdateMessage.
func NewAllBalancesUpdateMessage(balances map[string]float64) *AllBalancesUpdateMessage {
	return &AllBalancesUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeBalanceUpdate, Timestamp: time.Now()},
		Balances:    balances,
	}
}
