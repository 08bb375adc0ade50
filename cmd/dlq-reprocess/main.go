// Command dlq-reprocess читает shop.dlq и возвращает события заказов в shop.order.events.
// По умолчанию работает в dry-run: только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopcore/internal/service/outbox"
)

const (
	envKafkaBrokers    = "SHOP_KAFKA_BROKERS"
	replayClientID     = "shop-dlq-replay"
	defaultMaxMessages = 100
	defaultIdle        = 2 * time.Second
)

var errFiltered = errors.New("message filtered out")

// options — параметры одного прогона.
type options struct {
	brokers []string
	source  string
	target  string
	max     int
	apply   bool
	tail    bool
	idle    time.Duration
	filter  replayFilter
}

// replayFilter сужает выборку; пустое поле не ограничивает.
type replayFilter struct {
	eventType string
	orderID   string
}

func (f replayFilter) accepts(env kafka.Envelope) bool {
	if f.eventType != "" && env.EventType != f.eventType {
		return false
	}
	return f.orderID == "" || env.AggregateID == f.orderID
}

func (o options) validate() error {
	switch {
	case len(o.brokers) == 0:
		return fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case o.source == "":
		return errors.New("source topic is required")
	case o.target == "":
		return errors.New("target topic is required")
	case o.source == o.target:
		return errors.New("source and target topics must differ")
	case o.max <= 0:
		return errors.New("limit must be positive")
	case o.idle <= 0:
		return errors.New("idle timeout must be positive")
	}
	return nil
}

// offsetReader — часть sarama.Client, нужная для разметки партиций.
type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionOpener interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type messageSink interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// consumerOpener сужает sarama.Consumer до partitionOpener.
type consumerOpener struct {
	sarama.Consumer
}

func (c consumerOpener) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return c.Consumer.ConsumePartition(topic, partition, offset)
}

// connect открывает соединения с Kafka; producer нужен только при -execute.
var connect = func(opts options) (offsetReader, partitionOpener, messageSink, error) {
	consumerCfg := sarama.NewConfig()
	consumerCfg.ClientID = replayClientID
	consumerCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, consumerCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("open dlq consumer: %w", err)
	}
	if !opts.apply {
		return client, consumerOpener{consumer}, nil, nil
	}

	producer, err := sarama.NewSyncProducer(opts.brokers, kafka.ProducerConfig(replayClientID))
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("open replay producer: %w", err)
	}
	return client, consumerOpener{consumer}, producer, nil
}

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var (
		opts    options
		brokers string
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokers, "brokers", "", "comma-separated kafka brokers (default $"+envKafkaBrokers+")")
	fs.StringVar(&opts.source, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	fs.StringVar(&opts.target, "target-topic", kafka.TopicOrderEvents, "topic to replay order events into")
	fs.IntVar(&opts.max, "limit", defaultMaxMessages, "max messages to scan across all partitions")
	fs.BoolVar(&opts.apply, "execute", false, "publish replays instead of printing them")
	fs.BoolVar(&opts.tail, "from-newest", false, "scan the last -limit messages of each partition")
	fs.DurationVar(&opts.idle, "idle-timeout", defaultIdle, "stop reading a partition after this much silence")
	fs.StringVar(&opts.filter.eventType, "event-type", "", "replay only this event type, e.g. order.paid")
	fs.StringVar(&opts.filter.orderID, "order-id", "", "replay only events of this order")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envKafkaBrokers)
	}
	opts.brokers = parseBrokers(brokers)
	opts.source = strings.TrimSpace(opts.source)
	opts.target = strings.TrimSpace(opts.target)
	opts.filter.eventType = strings.TrimSpace(opts.filter.eventType)
	opts.filter.orderID = strings.TrimSpace(opts.filter.orderID)

	if err := opts.validate(); err != nil {
		return options{}, err
	}
	return opts, nil
}

func parseBrokers(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(ctx context.Context, opts options) error {
	logger := log.WithFields(log.Fields{
		"source_topic": opts.source,
		"target_topic": opts.target,
		"execute":      opts.apply,
	})
	logger.WithFields(log.Fields{
		"limit":       opts.max,
		"from_newest": opts.tail,
		"event_type":  opts.filter.eventType,
		"order_id":    opts.filter.orderID,
	}).Info("dlq replay started")

	offsets, opener, sink, err := connect(opts)
	if err != nil {
		return err
	}
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
		if opener != nil {
			_ = opener.Close()
		}
		if offsets != nil {
			_ = offsets.Close()
		}
	}()

	r := &replayer{opts: opts, offsets: offsets, opener: opener, sink: sink, now: time.Now, logger: logger}
	_, err = r.run(ctx)
	return err
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) merge(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer проходит партиции DLQ по возрастанию номера, пока не исчерпан общий лимит.
type replayer struct {
	opts    options
	offsets offsetReader
	opener  partitionOpener
	sink    messageSink
	now     func() time.Time
	logger  *log.Entry
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.offsets == nil || r.opener == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.opts.apply && r.sink == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.opts.source)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.source, err)
	}
	if len(partitions) == 0 {
		r.logger.Warn("dlq topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.opts.max - total.scanned
		if budget <= 0 {
			break
		}
		stats, err := r.drain(ctx, partition, budget)
		total.merge(stats)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// window возвращает полуинтервал [from, to) офсетов партиции для чтения.
func (r *replayer) window(partition int32, budget int) (from, to int64, err error) {
	from, err = r.offsets.GetOffset(r.opts.source, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	to, err = r.offsets.GetOffset(r.opts.source, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if r.opts.tail {
		from = max(to-int64(budget), from)
	}
	return from, to, nil
}

// drain читает не больше budget сообщений партиции. Чтение заканчивается на
// офсете, который был последним при старте, или по тишине дольше idle.
func (r *replayer) drain(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	from, to, err := r.window(partition, budget)
	if err != nil || from >= to {
		return stats, err
	}

	stream, err := r.opener.ConsumePartition(r.opts.source, partition, from)
	if err != nil {
		return stats, fmt.Errorf("open partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idle)
	defer idle.Stop()

	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr, ok := <-stream.Errors():
			if !ok {
				return stats, nil
			}
			if cerr != nil {
				return stats, fmt.Errorf("read partition %d: %w", partition, cerr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= to {
				return stats, nil
			}
			idle.Reset(r.opts.idle)
			stats.scanned++

			replayed, err := r.handle(msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}
			if msg.Offset+1 >= to {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle разбирает одно DLQ-сообщение. Ошибка возвращается только при сбое публикации:
// нечитаемые и отфильтрованные записи пропускаются.
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, err := unwrapDeadLetter(msg.Value, r.opts.filter, r.now())
	switch {
	case errors.Is(err, errFiltered):
		return false, nil
	case err != nil:
		logger.WithError(err).Warn("skip unreadable dlq message")
		return false, nil
	}

	logger = logger.WithFields(log.Fields{
		"key":           replay.envelope.Key(),
		"event_type":    replay.envelope.EventType,
		"publish_error": replay.publishError,
	})
	if !r.opts.apply {
		logger.Info("dlq replay candidate")
		return true, nil
	}
	if err := sendReplay(r.sink, r.opts.target, replay.envelope); err != nil {
		return false, fmt.Errorf("replay %s: %w", replay.envelope.ID, err)
	}
	logger.Debug("dlq message replayed")
	return true, nil
}

// deadLetterReplay — исходное событие заказа, извлечённое из DLQ.
type deadLetterReplay struct {
	envelope     kafka.Envelope
	publishError string
}

// unwrapDeadLetter снимает два слоя: конверт DLQ-топика и outbox.DeadLetter внутри него.
// Поля DeadLetter приоритетнее полей внешнего конверта.
func unwrapDeadLetter(raw []byte, filter replayFilter, now time.Time) (deadLetterReplay, error) {
	var outer kafka.Envelope
	if err := json.Unmarshal(raw, &outer); err != nil {
		return deadLetterReplay{}, fmt.Errorf("decode dlq envelope: %w", err)
	}
	if len(outer.Payload) == 0 {
		return deadLetterReplay{}, errors.New("dlq envelope has no payload")
	}

	var dead outbox.DeadLetter
	if err := json.Unmarshal(outer.Payload, &dead); err != nil {
		return deadLetterReplay{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return deadLetterReplay{}, errors.New("dead letter has no original payload")
	}

	env := kafka.Envelope{
		ID:            firstNonEmpty(dead.OutboxID, outer.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, outer.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, outer.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, outer.EventType),
		Payload:       dead.Payload,
		OccurredAt:    outer.OccurredAt,
		PublishedAt:   now.UTC(),
		Replayed:      true,
	}
	if !filter.accepts(env) {
		return deadLetterReplay{}, errFiltered
	}
	return deadLetterReplay{envelope: env, publishError: dead.PublishError}, nil
}

// sendReplay публикует конверт с пометкой replayed тем же форматом, что и outbox-воркер.
func sendReplay(sink messageSink, topic string, env kafka.Envelope) error {
	if sink == nil {
		return errors.New("producer is nil")
	}
	env.Replayed = true
	if env.PublishedAt.IsZero() {
		env.PublishedAt = time.Now().UTC()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode replay envelope: %w", err)
	}

	_, _, err = sink.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(env.Key()),
		Value:     sarama.ByteEncoder(body),
		Headers:   env.Headers(),
		Timestamp: env.PublishedAt,
	})
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
