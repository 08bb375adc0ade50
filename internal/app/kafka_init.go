package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
)

// newKafkaProducer подменяется в тестах, чтобы не ходить в сеть.
var newKafkaProducer = kafka.NewProducer

// brokerList разбирает SHOP_KAFKA_BROKERS: адреса через запятую, пустые элементы пропускаются.
func brokerList(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// dialKafka открывает producer для outbox и DLQ. Без брокеров или при ошибке
// подключения возвращает nil producer: события тогда уходят в лог. release
// безопасно вызывать в любом случае.
func dialKafka(cfg Config, logger *log.Entry) (producer *kafka.Producer, release func(), err error) {
	release = func() {}
	brokers := brokerList(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		logger.Info("kafka is not configured, order events go to the log")
		return nil, release, nil
	}

	logger = logger.WithFields(log.Fields{"brokers": brokers, "client_id": cfg.KafkaClientID})
	producer, err = newKafkaProducer(brokers, cfg.KafkaClientID, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("kafka is unreachable, order events go to the log")
		return nil, release, err
	}
	logger.Info("kafka producer ready")

	release = func() {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("kafka producer close failed")
		}
	}
	return producer, release, nil
}
