// Copyright (C) 2025 vulnix-dev
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pubsub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// wireEnvelope is the JSON payload travelling over NOTIFY. The sender id
// lets a broker tell its own notifications apart from everyone else's.
type wireEnvelope struct {
	ID        string         `json:"id"`
	Channel   Channel        `json:"topic"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	SenderID  string         `json:"sender_id,omitempty"`
}

// PostgreSQLBroker moves queue messages over LISTEN/NOTIFY. One broker
// holds one listener connection shared by all channel subscriptions.
type PostgreSQLBroker struct {
	db       *sql.DB
	listener *pq.Listener
	senderID string

	subscribeMux sync.RWMutex
	subscribers  map[Channel][]chan map[string]any

	loopMux     sync.Mutex
	loopRunning bool
	cancel      context.CancelFunc
	ctx         context.Context
	wg          sync.WaitGroup

	receiveOwn bool
}

func BrokerFactory() (Broker, error) {
	return NewPostgreSQLBroker(
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("POSTGRES_HOST"),
		os.Getenv("POSTGRES_PORT"),
		os.Getenv("POSTGRES_DB"),
	)
}

func NewPostgreSQLBroker(user, password, host, port, dbname string) (*PostgreSQLBroker, error) {
	connectionString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbname)

	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("could not open broker connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not reach postgres: %w", err)
	}

	listener := pq.NewListener(connectionString, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Error("broker listener error", "err", err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &PostgreSQLBroker{
		db:          db,
		listener:    listener,
		senderID:    uuid.New().String(),
		subscribers: make(map[Channel][]chan map[string]any),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// SetShouldReceiveOwnMessages lets this broker's subscribers see its own
// publishes. The worker enables it so a single-process deployment still
// drains its own queue.
func (b *PostgreSQLBroker) SetShouldReceiveOwnMessages(should bool) {
	b.receiveOwn = should
}

func (b *PostgreSQLBroker) Publish(ctx context.Context, message Message) error {
	envelope := wireEnvelope{
		ID:        uuid.New().String(),
		Channel:   message.GetChannel(),
		Payload:   message.GetPayload(),
		Timestamp: time.Now(),
		SenderID:  b.senderID,
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("could not marshal queue message: %w", err)
	}

	// NOTIFY takes no bind parameters, the payload rides inside the
	// statement text
	query := fmt.Sprintf("NOTIFY %s, '%s'", pq.QuoteIdentifier(string(envelope.Channel)), string(raw))
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("could not notify channel %s: %w", envelope.Channel, err)
	}

	slog.Debug("message published", "channel", envelope.Channel, "messageID", envelope.ID)
	return nil
}

func (b *PostgreSQLBroker) Subscribe(topic Channel) (<-chan map[string]any, error) {
	b.subscribeMux.Lock()
	defer b.subscribeMux.Unlock()

	if _, known := b.subscribers[topic]; !known {
		if err := b.listener.Listen(string(topic)); err != nil {
			return nil, fmt.Errorf("could not listen on channel %s: %w", topic, err)
		}
		slog.Info("listening on channel", "channel", topic)
	}

	ch := make(chan map[string]any, 100)
	b.subscribers[topic] = append(b.subscribers[topic], ch)

	b.loopMux.Lock()
	if !b.loopRunning {
		b.loopRunning = true
		b.wg.Add(1)
		go b.listenLoop()
	}
	b.loopMux.Unlock()

	return ch, nil
}

func (b *PostgreSQLBroker) listenLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case notification := <-b.listener.Notify:
			// the listener sends nil after a reconnect
			if notification != nil {
				b.deliver(notification)
			}
		case <-time.After(time.Second):
			if err := b.listener.Ping(); err != nil {
				slog.Error("broker keepalive failed", "err", err)
			}
		}
	}
}

func (b *PostgreSQLBroker) deliver(notification *pq.Notification) {
	var envelope wireEnvelope
	if err := json.Unmarshal([]byte(notification.Extra), &envelope); err != nil {
		slog.Error("could not unmarshal queue message", "err", err, "payload", notification.Extra)
		return
	}

	if envelope.SenderID == b.senderID && !b.receiveOwn {
		return
	}

	topic := Channel(notification.Channel)
	b.subscribeMux.RLock()
	subscribers := b.subscribers[topic]
	b.subscribeMux.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- envelope.Payload:
		default:
			// full subscriber buffers drop, queued jobs are re-published
			// by the recovery daemon
			slog.Warn("subscriber buffer full, dropping message", "channel", topic, "messageID", envelope.ID)
		}
	}
}

// Close stops the listen loop and closes every subscriber channel.
func (b *PostgreSQLBroker) Close() error {
	b.cancel()
	b.wg.Wait()

	b.subscribeMux.Lock()
	for topic, subscribers := range b.subscribers {
		for _, ch := range subscribers {
			close(ch)
		}
		delete(b.subscribers, topic)
	}
	b.subscribeMux.Unlock()

	if err := b.listener.Close(); err != nil {
		return fmt.Errorf("could not close listener: %w", err)
	}
	return b.db.Close()
}
