// Package notify implements a best-effort "object added" event publisher.
// It is purely additive: a Publisher is never in the critical path of
// add_objects, and a publish failure never surfaces to the caller.
package notify

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// ObjectAdded describes one successfully added object, mirroring the
// detail the status record itself carries.
type ObjectAdded struct {
	APIRoot      string `json:"api_root"`
	CollectionID string `json:"collection_id"`
	ObjectID     string `json:"id"`
	Version      string `json:"version"`
	MediaType    string `json:"media_type"`
}

// Publisher fans ObjectAdded events out to a Kafka topic through a small
// worker pool, never blocking the caller and never propagating a write
// failure.
type Publisher struct {
	writer  *kafka.Writer
	log     *logrus.Entry
	jobs    chan ObjectAdded
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewPublisher builds a Publisher writing to topic across brokers, with n
// worker goroutines draining a bounded queue.
func NewPublisher(brokers []string, topic string, workers int, log *logrus.Entry) *Publisher {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		log:  log,
		jobs: make(chan ObjectAdded, 256),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for event := range p.jobs {
		p.deliver(event)
	}
}

func (p *Publisher) deliver(event ObjectAdded) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("notify: recovered from panic publishing event")
		}
	}()

	payload, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).Error("notify: marshaling event")
		return
	}

	err = p.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(fmt.Sprintf("%s/%s", event.CollectionID, event.ObjectID)),
		Value: payload,
	})
	if err != nil {
		p.log.WithError(err).WithField("id", event.ObjectID).Warn("notify: failed to publish object-added event")
	}
}

// Publish enqueues event for best-effort delivery. It never blocks beyond
// the bounded queue's capacity: it drops the event with a log line if the
// queue is full, and drops it silently if the publisher has been closed.
func (p *Publisher) Publish(event ObjectAdded) {
	p.closeMu.Lock()
	closed := p.closed
	p.closeMu.Unlock()
	if closed {
		return
	}
	select {
	case p.jobs <- event:
	default:
		p.log.WithField("id", event.ObjectID).Warn("notify: queue full, dropping object-added event")
	}
}

// Close stops accepting new events and waits for queued ones to drain.
func (p *Publisher) Close() error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	p.closeMu.Unlock()

	close(p.jobs)
	p.wg.Wait()
	return p.writer.Close()
}
