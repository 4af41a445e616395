package rabbitmq

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrBadMessage marks a delivery that can never succeed. It goes straight
// to the DLQ.
var ErrBadMessage = errors.New("bad message")

const retryHeader = "x-retry-count"

type Handler func(ctx context.Context, body []byte) error

type ConsumerOptions struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	opts  ConsumerOptions
	log   zerolog.Logger
}

func NewConsumer(url, queue string, opts ConsumerOptions, log zerolog.Logger) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	//  strict concurrency control
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, opts: opts, log: log}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is done, handling deliveries on a fixed pool.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info().Str("queue", c.queue).Int("concurrency", c.opts.Concurrency).Msg("consumer started")

	// worker pool
	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)

	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d, h)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("consumer shutting down")
			return nil

		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, d amqp.Delivery, h Handler) {
	start := time.Now()
	err := h(ctx, d.Body)
	if err == nil {
		if err := d.Ack(false); err != nil {
			c.log.Warn().Err(err).Int("worker", workerID).Msg("ack failed")
		}
		return
	}

	retries := retryCount(d.Headers)
	ev := c.log.Warn().Err(err).Int("worker", workerID).Int("retries", retries).Dur("cost", time.Since(start))

	if !shouldRetry(err, retries, c.opts.MaxRetries) {
		ev.Msg("message dead-lettered")
		_ = d.Nack(false, false)
		return
	}

	headers := amqp.Table{retryHeader: int32(retries + 1)}
	if err := c.publishRetry(ctx, d.Body, headers); err != nil {
		c.log.Error().Err(err).Msg("failed to schedule retry, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	ev.Msg("message scheduled for retry")
	_ = d.Ack(false)
}

func (c *Consumer) publishRetry(ctx context.Context, body []byte, headers amqp.Table) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.ch.PublishWithContext(cctx, "", RetryQueue(c.queue), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Expiration:   strconv.FormatInt(c.opts.RetryDelay.Milliseconds(), 10),
		Body:         body,
		Timestamp:    time.Now(),
	})
}

func shouldRetry(err error, retries, maxRetries int) bool {
	if errors.Is(err, ErrBadMessage) {
		return false
	}
	return retries < maxRetries
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
