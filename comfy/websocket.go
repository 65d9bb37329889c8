package comfy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/gorilla/websocket"
)

const (
	wsDialRetries  = 3
	wsDialBaseWait = time.Second
	wsDialMaxWait  = 30 * time.Second
)

// feed is a live websocket connection to the server's event stream.
// Events are delivered on a channel that closes when the connection
// drops; callers decide whether to fall back to history polling.
type feed struct {
	conn    *websocket.Conn
	events  chan Event
	done    chan struct{}
	closing sync.Once
}

// openFeed dials /ws?clientId=..., retrying with exponential backoff
// on dial failures.
func (c *Client) openFeed(ctx context.Context) (*feed, error) {
	wsURL := fmt.Sprintf("%s?clientId=%s", c.wsURL, c.clientID)

	var conn *websocket.Conn
	var err error
	for attempt := 0; attempt <= wsDialRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(dialWait(attempt)):
			}
		}
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			break
		}
		log.Printf("[WARN] websocket dial attempt %d failed: %v", attempt+1, err)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.wsURL, err)
	}

	f := &feed{conn: conn, events: make(chan Event), done: make(chan struct{})}
	go f.readLoop()
	return f, nil
}

// dialWait is BaseWait * 2^(attempt-1), capped at MaxWait.
func dialWait(attempt int) time.Duration {
	wait := wsDialBaseWait * time.Duration(math.Pow(2, float64(attempt-1)))
	if wait > wsDialMaxWait {
		wait = wsDialMaxWait
	}
	return wait
}

func (f *feed) readLoop() {
	defer close(f.events)
	for {
		msgType, message, err := f.conn.ReadMessage()
		if err != nil {
			// normal closure on Close(), anything else is a drop
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("[DEBUG] websocket read ended: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			// preview frames arrive as binary, the bot fetches final
			// images over http instead
			continue
		}

		var ev Event
		if err = ev.UnmarshalJSON(message); err != nil {
			log.Printf("[WARN] bad websocket message: %v", err)
			continue
		}
		select {
		case f.events <- ev:
		case <-f.done:
			return
		}
	}
}

// Events returns the channel of decoded feed events. It closes when
// the connection drops.
func (f *feed) Events() <-chan Event { return f.events }

// Close tears down the connection and releases the read loop.
func (f *feed) Close() {
	f.closing.Do(func() {
		close(f.done)
		_ = f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = f.conn.Close()
	})
}
