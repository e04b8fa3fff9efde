package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/candleshop/internal/messaging/kafka"
)

// splitBrokers разбирает строку вида "host1:9092, host2:9092" в список,
// отбрасывая пустые элементы.
func splitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}

// initOrderEventProducer подключает producer событий заказов. Kafka для
// candleshop опциональна: при пустом списке брокеров или ошибке
// подключения сервис работает без публикации событий.
func initOrderEventProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, order events disabled")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("order event producer initialized")
	return producer, nil
}

func closeOrderEventProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("order event producer closed")
}
