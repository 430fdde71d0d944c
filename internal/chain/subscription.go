package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

// LogSubscription is a live eth_subscribe("logs") stream over a websocket.
type LogSubscription struct {
	mu   sync.Mutex
	conn *websocket.Conn
	logs chan Log
	done chan struct{}
	err  error
}

type subscriptionNotice struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// SubscribeLogs opens a websocket connection and subscribes to logs emitted
// by the given contract for the given topics (matched against topic zero).
func SubscribeLogs(ctx context.Context, wsURL string, address common.Address, topics []common.Hash) (*LogSubscription, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	filter := map[string]any{"address": address}
	if len(topics) > 0 {
		filter["topics"] = []any{topics}
	}
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  "eth_subscribe",
		Params:  []any{"logs", filter},
		ID:      1,
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe request: %w", err)
	}

	var resp RPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe response: %w", err)
	}
	if resp.Error != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", resp.Error)
	}

	s := &LogSubscription{
		conn: conn,
		logs: make(chan Log, 16),
		done: make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

// Logs returns the channel of incoming logs. It is closed when the
// subscription ends, after which Err reports the cause.
func (s *LogSubscription) Logs() <-chan Log {
	return s.logs
}

// Err returns the error that terminated the subscription, if any.
func (s *LogSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears down the connection and stops the read loop.
func (s *LogSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)

	s.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	s.conn.Close()
}

func (s *LogSubscription) readLoop() {
	defer close(s.logs)

	for {
		var notice subscriptionNotice
		if err := s.conn.ReadJSON(&notice); err != nil {
			s.mu.Lock()
			select {
			case <-s.done:
				// closed deliberately, not an error
			default:
				s.err = err
			}
			s.mu.Unlock()
			return
		}

		if notice.Method != "eth_subscription" || len(notice.Params.Result) == 0 {
			continue
		}

		var log Log
		if err := json.Unmarshal(notice.Params.Result, &log); err != nil {
			continue
		}
		if log.Removed {
			continue
		}

		select {
		case s.logs <- log:
		case <-s.done:
			return
		}
	}
}
