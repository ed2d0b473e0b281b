package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"faucet/internal/config"
	"faucet/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Publisher 领取事件发布器
type Publisher interface {
	PublishClaim(ctx context.Context, record *models.ClaimRecord) error
	Close() error
}

// NoopPublisher 未启用消息队列时使用
type NoopPublisher struct{}

func (NoopPublisher) PublishClaim(ctx context.Context, record *models.ClaimRecord) error { return nil }
func (NoopPublisher) Close() error                                                       { return nil }

// KafkaPublisher Kafka领取事件发布器
type KafkaPublisher struct {
	logger   *logrus.Logger
	topic    string
	producer sarama.SyncProducer
}

// New 按配置创建发布器，未启用Kafka时返回NoopPublisher
func New(cfg *config.KafkaConfig, logger *logrus.Logger) (Publisher, error) {
	if cfg == nil || !cfg.Enabled {
		logger.Info("Kafka未启用，领取事件不会发布")
		return NoopPublisher{}, nil
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger)
}

// NewKafkaPublisher 创建Kafka发布器
func NewKafkaPublisher(brokers []string, topic string, logger *logrus.Logger) (*KafkaPublisher, error) {
	logger.Infof("初始化Kafka发布器，brokers: %v, topic: %s", brokers, topic)

	// 配置Kafka生产者
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Timeout = 5 * time.Second
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConfig.Net.DialTimeout = 5 * time.Second
	saramaConfig.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

// NewKafkaPublisherWithProducer 使用已有生产者创建发布器
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *logrus.Logger) *KafkaPublisher {
	if topic == "" {
		topic = "faucet_claims"
	}
	return &KafkaPublisher{
		logger:   logger,
		topic:    topic,
		producer: producer,
	}
}

// PublishClaim 发布领取已记录事件，按地址分区保证同一地址的事件有序
func (k *KafkaPublisher) PublishClaim(ctx context.Context, record *models.ClaimRecord) error {
	if record == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	event := models.NewClaimEvent(record)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化领取事件失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(record.Address),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送领取事件到Kafka失败: %w", err)
	}

	k.logger.WithFields(logrus.Fields{
		"topic":     k.topic,
		"partition": partition,
		"offset":    offset,
		"tx_hash":   record.TxHash,
	}).Debug("领取事件已发布")

	return nil
}

// Close 关闭Kafka连接
func (k *KafkaPublisher) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
