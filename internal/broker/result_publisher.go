package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
)

// ResultPublisher streams finished check results, keyed by "<suite>/<name>".
type ResultPublisher struct {
	writer messageWriter
	cfg    *config.ProducerConfig
	log    *slog.Logger
}

func NewResultPublisher(cfg *config.ProducerConfig, log *slog.Logger) *ResultPublisher {
	return &ResultPublisher{writer: newWriter(cfg, log), cfg: cfg, log: log}
}

func (p *ResultPublisher) Name() string { return "kafka" }

func (p *ResultPublisher) Publish(ctx context.Context, results []*model.CheckResult) error {
	msgs := make([]kafka.Message, 0, len(results))
	for _, r := range results {
		body, err := jsoniter.Marshal(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(r.Suite + "/" + r.Name), Value: body})
	}
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to send results to kafka: %w", err)
	}
	p.log.Debug("results sent to kafka.", slog.Int("count", len(msgs)))

	return nil
}

func (p *ResultPublisher) Close() error {
	return p.writer.Close()
}
