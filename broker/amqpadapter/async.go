package amqpadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/broker"
	"github.com/miladsoleymani/tavrida/config"
)

// AsyncAdapter is the asynchronous (event-loop/goroutine driven) flavor of
// spec.md §4.8: connection and channel close notifications re-arm the
// reconnect loop instead of surfacing as a fatal error, matching
// tavrida/amqp_driver/pika_async.py's callback-driven reconnection. Unlike
// SyncAdapter, losing the connection mid-Consume does not close the
// Delivery channel returned to the caller — it is bridged across
// reconnects until ReconnectAttempts is exhausted or Close is called.
type AsyncAdapter struct {
	cfg config.ConnectionConfig

	mu       sync.Mutex
	state    broker.State
	conn     *amqp.Connection
	ch       *amqp.Channel
	attempt  int
	closedCh chan struct{}
}

// NewAsyncAdapter returns an AsyncAdapter that has not yet connected.
func NewAsyncAdapter(cfg config.ConnectionConfig) *AsyncAdapter {
	return &AsyncAdapter{cfg: cfg, state: broker.StateDisconnected}
}

// Connect dials the broker, opens a channel, and registers NotifyClose
// callbacks that drive reconnection on unexpected loss.
func (a *AsyncAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectLocked(ctx)
}

func (a *AsyncAdapter) connectLocked(ctx context.Context) error {
	a.state = broker.StateConnecting

	conn, err := amqp.DialConfig(a.cfg.DialURI(), amqp.Config{
		Heartbeat: a.cfg.HeartbeatInterval,
	})
	if err != nil {
		a.state = broker.StateDisconnected
		return apperror.NewIncorrectAMQPConfig(err.Error())
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		a.state = broker.StateDisconnected
		return apperror.NewIncorrectAMQPConfig(err.Error())
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		a.state = broker.StateDisconnected
		return apperror.NewIncorrectAMQPConfig(err.Error())
	}

	a.conn = conn
	a.ch = ch
	a.attempt = 0
	a.state = broker.StateOpen
	a.closedCh = make(chan struct{})

	connClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClose := ch.NotifyClose(make(chan *amqp.Error, 1))
	go a.watchClose(ctx, connClose, chClose)
	return nil
}

// watchClose re-enters StateDisconnected and attempts reconnection when
// either notification channel fires, per pika_async's on_connection_closed
// / on_channel_closed handlers.
func (a *AsyncAdapter) watchClose(ctx context.Context, connClose, chClose chan *amqp.Error) {
	select {
	case <-connClose:
	case <-chClose:
	case <-ctx.Done():
		return
	}

	a.mu.Lock()
	if a.state == broker.StateClosed || a.state == broker.StateDraining {
		a.mu.Unlock()
		return
	}
	a.state = broker.StateDisconnected
	close(a.closedCh)
	a.mu.Unlock()

	a.reconnectLoop(ctx)
}

func (a *AsyncAdapter) reconnectLoop(ctx context.Context) {
	for {
		a.mu.Lock()
		if a.cfg.ReconnectAttempts >= 0 && a.attempt >= a.cfg.ReconnectAttempts {
			a.mu.Unlock()
			return
		}
		a.attempt++
		delay := a.cfg.RetryDelay
		a.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		a.mu.Lock()
		err := a.connectLocked(ctx)
		a.mu.Unlock()
		if err == nil {
			return
		}
	}
}

// State reports the adapter's current lifecycle state.
func (a *AsyncAdapter) State() broker.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *AsyncAdapter) channel() (*amqp.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch == nil {
		return nil, apperror.NewIncorrectAMQPConfig("adapter is not connected")
	}
	return a.ch, nil
}

// DeclareExchange declares a durable topic exchange.
func (a *AsyncAdapter) DeclareExchange(ctx context.Context, exchange string) error {
	ch, err := a.channel()
	if err != nil {
		return err
	}
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

// DeclareQueue declares a durable queue.
func (a *AsyncAdapter) DeclareQueue(ctx context.Context, queue string) error {
	ch, err := a.channel()
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	return err
}

// BindQueue binds queue to exchange under routingKey.
func (a *AsyncAdapter) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	ch, err := a.channel()
	if err != nil {
		return err
	}
	return ch.QueueBind(queue, routingKey, exchange, false, nil)
}

// Publish sends frame to exchange under routingKey.
func (a *AsyncAdapter) Publish(ctx context.Context, exchange, routingKey string, frame broker.Frame) error {
	ch, err := a.channel()
	if err != nil {
		return err
	}
	headers := amqp.Table{}
	for k, v := range frame.Headers {
		headers[k] = v
	}
	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		Body:    frame.Body,
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("amqpadapter: publish to %q: %w", exchange, err)
	}
	return nil
}

// Consume starts an event-driven consumer on queue. Deliveries survive a
// reconnect: the goroutine re-issues Channel.Consume against the new
// channel once reconnectLoop re-establishes it.
func (a *AsyncAdapter) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	out := make(chan broker.Delivery)
	go a.consumeLoop(ctx, queue, out)
	return out, nil
}

func (a *AsyncAdapter) consumeLoop(ctx context.Context, queue string, out chan<- broker.Delivery) {
	defer close(out)
	for {
		ch, err := a.channel()
		if err != nil {
			return
		}
		deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			return
		}

	drain:
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					break drain // channel closed by watchClose's reconnect path
				}
				out <- toDelivery(d)
			}
		}

		a.mu.Lock()
		closedCh := a.closedCh
		a.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-closedCh:
			// wait for reconnectLoop to re-establish the channel, then retry
			for {
				if a.State() == broker.StateOpen {
					break
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(50 * time.Millisecond):
				}
			}
		}
	}
}

// Close transitions Open -> Draining -> Closed.
func (a *AsyncAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == broker.StateClosed {
		return nil
	}
	a.state = broker.StateDraining

	var firstErr error
	if a.ch != nil {
		if err := a.ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.state = broker.StateClosed
	return firstErr
}
