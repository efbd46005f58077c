// Package kafka provides the Kafka channel backing the audit event bus in
// production.
package kafka

import (
	"errors"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

// BrokersEnvVar names the environment variable holding the comma-separated
// broker list.
const BrokersEnvVar = "KAFKA_BROKERS"

// BrokersFromEnv reads and validates the broker list from BrokersEnvVar.
// Entries are trimmed; empty entries are dropped.
func BrokersFromEnv() ([]string, error) {
	raw := os.Getenv(BrokersEnvVar)

	var brokers []string

	for _, broker := range strings.Split(raw, ",") {
		broker = strings.TrimSpace(broker)
		if broker == "" {
			continue
		}

		brokers = append(brokers, broker)
	}

	if len(brokers) == 0 {
		return nil, errors.New(BrokersEnvVar + " environment variable is not set or empty")
	}

	return brokers, nil
}

// ConsumerGroup derives the per-service consumer group. Every routeflow
// service reads the full audit topic through its own group, so the escalator
// and any future projector each see every event.
func ConsumerGroup(serviceName string) string {
	return "routeflow-cg-" + serviceName
}

func clientID(serviceName string) string {
	return "routeflow-" + serviceName
}

// CreateChannel builds the Kafka publisher and subscriber for the audit
// topic. The subscriber starts from the oldest offset so a freshly deployed
// service replays the retained audit history.
func CreateChannel(logger watermill.LoggerAdapter, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers, err := BrokersFromEnv()
	if err != nil {
		return nil, nil, err
	}

	subscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	subscriberConfig.ClientID = clientID(serviceName)
	subscriberConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: subscriberConfig,
			ConsumerGroup:         ConsumerGroup(serviceName),
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	publisherConfig := sarama.NewConfig()
	publisherConfig.ClientID = clientID(serviceName)
	publisherConfig.Producer.Return.Successes = true

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: publisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, err
	}

	return publisher, subscriber, nil
}
