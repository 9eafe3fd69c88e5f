// Package publish emits finished eligibility reports to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/sawpanic/eligibility/internal/eligibility"
)

// messageWriter is the part of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Stats are the producer counters
type Stats struct {
	MessagesSent  int64     `json:"messages_sent"`
	MessagesError int64     `json:"messages_error"`
	BytesSent     int64     `json:"bytes_sent"`
	LastSentTime  time.Time `json:"last_sent_time"`
	LastError     string    `json:"last_error,omitempty"`
}

// Producer publishes one JSON message per report, keyed by address so a wallet's
// reports land on one partition in order
type Producer struct {
	topic  string
	writer messageWriter

	mu     sync.Mutex
	closed bool
	stats  Stats
}

// NewProducer creates a synchronous producer for the topic
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    50,
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Str("component", "kafka").Msgf(msg, args...)
		}),
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debug().Str("component", "kafka").Msgf(msg, args...)
		}),
	}

	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Kafka producer initialized")

	return newProducer(w, topic), nil
}

func newProducer(w messageWriter, topic string) *Producer {
	return &Producer{topic: topic, writer: w}
}

// Publish sends the report; it implements eligibility.Publisher
func (p *Producer) Publish(ctx context.Context, report eligibility.Report) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("producer is closed")
	}
	p.mu.Unlock()

	value, err := json.Marshal(report)
	if err != nil {
		p.recordError(err)
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(report.Address),
		Value: value,
		Time:  report.EvaluatedAt,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "report-id", Value: []byte(report.ID)},
			{Key: "result", Value: []byte(report.Result())},
			{Key: "score", Value: []byte(strconv.FormatFloat(report.Score, 'f', 2, 64))},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.recordError(err)
		return fmt.Errorf("failed to send report to kafka: %w", err)
	}

	p.mu.Lock()
	p.stats.MessagesSent++
	p.stats.BytesSent += int64(len(value))
	p.stats.LastSentTime = time.Now()
	p.mu.Unlock()

	log.Debug().Str("report_id", report.ID).Str("topic", p.topic).Int("bytes", len(value)).Msg("Report published")
	return nil
}

// Stats returns a snapshot of the counters
func (p *Producer) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close flushes and closes the writer. Safe to call twice.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

func (p *Producer) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.MessagesError++
	p.stats.LastError = err.Error()
}
