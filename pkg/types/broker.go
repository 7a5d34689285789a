package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BrokerCommand is the `command` discriminant of a broker request frame.
type BrokerCommand string

const (
	BrokerPing               BrokerCommand = "PING"
	BrokerOpenPosition       BrokerCommand = "OPEN_POSITION"
	BrokerClosePosition      BrokerCommand = "CLOSE_POSITION"
	BrokerCloseAllPositions  BrokerCommand = "CLOSE_ALL_POSITIONS"
	BrokerModifyPosition     BrokerCommand = "MODIFY_POSITION"
	BrokerGetPositions       BrokerCommand = "GET_POSITIONS"
	BrokerGetAccountInfo     BrokerCommand = "GET_ACCOUNT_INFO"
	BrokerGetSymbolInfo      BrokerCommand = "GET_SYMBOL_INFO"
)

// BrokerRequest is one JSON frame sent over the broker request/reply socket.
type BrokerRequest struct {
	Command    BrokerCommand  `json:"command"`
	RequestID  string         `json:"requestId"`
	Timestamp  int64          `json:"timestamp"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// BrokerResponseStatus is the `status` discriminant of a broker response.
type BrokerResponseStatus string

const (
	BrokerStatusOK    BrokerResponseStatus = "OK"
	BrokerStatusError BrokerResponseStatus = "ERROR"
)

// BrokerResponse is one JSON frame received over the broker request/reply
// socket, correlated to its request by RequestID.
type BrokerResponse struct {
	Status        BrokerResponseStatus `json:"status"`
	Data          map[string]any       `json:"data,omitempty"`
	Error         string               `json:"error,omitempty"`
	RequestID     string               `json:"requestId"`
	Timestamp     int64                `json:"timestamp"`
	ExecutionTime int64                `json:"executionTime,omitempty"`
}

// OpenPositionParams is the parameter set for an OPEN_POSITION request.
type OpenPositionParams struct {
	Symbol   string          `json:"symbol"`
	Action   Side            `json:"action"`
	LotSize  decimal.Decimal `json:"lotSize"`
	SL       decimal.Decimal `json:"sl,omitempty"`
	TP       decimal.Decimal `json:"tp,omitempty"`
	Comment  string          `json:"comment,omitempty"`
	Magic    int64           `json:"magic,omitempty"`
}

// ClosePositionParams is the parameter set for a CLOSE_POSITION request.
type ClosePositionParams struct {
	Ticket int64           `json:"ticket"`
	Volume decimal.Decimal `json:"volume,omitempty"`
}

// ModifyPositionParams is the parameter set for a MODIFY_POSITION request.
type ModifyPositionParams struct {
	Ticket int64           `json:"ticket"`
	SL     decimal.Decimal `json:"sl,omitempty"`
	TP     decimal.Decimal `json:"tp,omitempty"`
}

// BrokerPushAction is the `action` discriminant of an unsolicited broker
// push frame.
type BrokerPushAction string

const (
	PushAccountInfo BrokerPushAction = "account_info"
	PushMarketData  BrokerPushAction = "market_data"
	PushHeartbeat   BrokerPushAction = "heartbeat"
)

// BrokerPushFrame is an unsolicited frame sent by the broker to the push
// listener.
type BrokerPushFrame struct {
	Action    BrokerPushAction `json:"action"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// BrokerPushAck is the frame echoed back to the broker for a push message.
type BrokerPushAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ExecutorConfigRecord is the opaque persisted state layout from spec §6.
type ExecutorConfigRecord struct {
	ExecutorID         string        `json:"executorId"`
	APIKey             string        `json:"apiKey"`
	APISecretEncrypted []byte        `json:"apiSecretEncrypted"`
	PlatformURL        string        `json:"platformUrl"`
	PushKey            string        `json:"pushKey"`
	PushCluster        string        `json:"pushCluster"`
	BrokerPort         int           `json:"brokerPort"`
	BrokerHost         string        `json:"brokerHost"`
	HeartbeatInterval  time.Duration `json:"heartbeatInterval"`
	AutoReconnect      bool          `json:"autoReconnect"`
}
