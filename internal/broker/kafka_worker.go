package broker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newWriter(cfg *config.ProducerConfig, log *slog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Addr, ",")...),
		Topic:        cfg.WriteTopicName,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    1,                // controlled by the batch ticker
		BatchTimeout: time.Millisecond, // controlled by the batch slice
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAsks),
		Async:        cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
			}
		},
		Compression: kafka.Compression(new(lz4.Codec).Code()),
	}
}

func reportMessage(report *model.PageReport) (kafka.Message, error) {
	body, err := jsoniter.Marshal(report)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(report.URL), Value: body}, nil
}

func decodeTask(value []byte) (*model.LinkTask, error) {
	var task model.LinkTask
	if err := jsoniter.Unmarshal(value, &task); err != nil {
		return nil, err
	}
	if task.URL == "" {
		return nil, errors.New("task without url")
	}
	return &task, nil
}

type KafkaProducerClient struct {
	reportChan <-chan *model.PageReport
	cfg        *config.ProducerConfig
	log        *slog.Logger
	wg         *sync.WaitGroup
	writer     messageWriter
}

func NewKafkaProducer(reportChan <-chan *model.PageReport, cfg *config.ProducerConfig, log *slog.Logger,
	wg *sync.WaitGroup) *KafkaProducerClient {
	return &KafkaProducerClient{
		reportChan: reportChan,
		cfg:        cfg,
		log:        log,
		wg:         wg,
		writer:     newWriter(cfg, log),
	}
}

// Run sends page reports in batches until reportChan is closed and drained.
func (p *KafkaProducerClient) Run() {
	defer p.wg.Done()
	p.log.Info("starting kafka producer...", slog.String("topic", p.cfg.WriteTopicName))
	defer func() {
		err := p.writer.Close()
		if err != nil {
			p.log.Error("failed to close kafka writer.", slog.String("err", err.Error()))
		}
	}()

	batchTicker := time.NewTicker(p.cfg.BatchTimeout)
	defer batchTicker.Stop()
	batch := make([]kafka.Message, 0, p.cfg.BatchSize)
	writeMessage := func(batch []kafka.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
		defer cancel()
		err := p.writer.WriteMessages(ctx, batch...)
		if err != nil {
			p.log.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
			return
		}
		p.log.Debug("successfully sent messages to kafka.", slog.Int("batch length", len(batch)))
	}

	for report := range p.reportChan {
		msg, err := reportMessage(report)
		if err != nil {
			p.log.Error("marshaling error.", slog.String("err", err.Error()), slog.String("url", report.URL))
			continue
		}
		batch = append(batch, msg)
		select {
		case <-batchTicker.C:
			writeMessage(batch)
			batch = batch[:0]
		default:
			if len(batch) >= p.cfg.BatchSize {
				writeMessage(batch)
				batch = batch[:0]
			}
		}
	}
	// Some messages may remain in the batch after reportChan is closed
	if len(batch) > 0 {
		p.log.Debug("messages in batch.", slog.Int("count", len(batch)))
		writeMessage(batch)
	}
	p.log.Info("stopping kafka writer.")
}

type KafkaConsumerClient struct {
	taskChan chan<- *model.LinkTask
	cfg      *config.ConsumerConfig
	log      *slog.Logger
	wg       *sync.WaitGroup
}

func NewKafkaConsumer(taskChan chan<- *model.LinkTask, cfg *config.ConsumerConfig, log *slog.Logger,
	wg *sync.WaitGroup) *KafkaConsumerClient {
	return &KafkaConsumerClient{
		taskChan: taskChan,
		cfg:      cfg,
		log:      log,
		wg:       wg,
	}
}

// Run reads link-check tasks until ctx is cancelled, then closes taskChan.
func (c *KafkaConsumerClient) Run(ctx context.Context) {
	c.log.Info("starting kafka consumer.", slog.String("topic", c.cfg.ReadTopicName))
	defer c.wg.Done()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:          strings.Split(c.cfg.Brokers, ","),
		Topic:            c.cfg.ReadTopicName,
		GroupID:          c.cfg.GroupID,
		MaxWait:          c.cfg.MaxWait,
		ReadBatchTimeout: c.cfg.ReadBatchTimeout,
	})

	for {
		select {
		case <-ctx.Done():
			c.log.Info("stopping kafka reader.")
			err := r.Close()
			if err != nil {
				c.log.Error("failed to close kafka reader.", slog.String("err", err.Error()))
			}
			close(c.taskChan)
			c.log.Info("close taskChan.")
			return
		default:
			m, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Error("failed to read message from kafka.", slog.String("err", err.Error()))
				}
				continue
			}
			c.log.Debug("successfully read messages from kafka.")

			task, err := decodeTask(m.Value)
			if err != nil {
				c.log.Error("failed to unmarshal message.", slog.String("err", err.Error()))
				continue
			}
			c.taskChan <- task
		}
	}
}
