package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

type KafkaPublisher struct {
	producer *kafka.Producer
	prefix   string
	logger   logrus.FieldLogger
	done     chan struct{}
}

func NewKafkaPublisher(brokers, topicPrefix string, logger logrus.FieldLogger) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	p := &KafkaPublisher{
		producer: producer,
		prefix:   topicPrefix,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go p.drainDeliveryReports()
	return p, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	t := p.prefix + topic
	return p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &t, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, nil)
}

// Close flushes outstanding messages for up to timeoutMs and closes the producer.
func (p *KafkaPublisher) Close(timeoutMs int) {
	if left := p.producer.Flush(timeoutMs); left > 0 {
		p.logger.WithField("unflushed", left).Warn("kafka producer closed with undelivered events")
	}
	p.producer.Close()
	<-p.done
}

func (p *KafkaPublisher) drainDeliveryReports() {
	defer close(p.done)
	for ev := range p.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				p.logger.WithError(e.TopicPartition.Error).
					WithField("topic", *e.TopicPartition.Topic).
					Error("kafka delivery failed")
			}
		case kafka.Error:
			p.logger.WithError(e).Error("kafka producer error")
		}
	}
}
