// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"synapse-go/internal/config"
	"synapse-go/pkg/log"
	"synapse-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor 处理入库任务。Kafka 消费者不依赖具体的流水线实现。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.SourceIngestionTask) error
	// GiveUp 在任务多次失败后调用，负责把来源标记为失败。
	GiveUp(ctx context.Context, task tasks.SourceIngestionTask, cause error)
}

// Producer 把入库任务投递到 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(splitBrokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Dispatch 发送一个入库任务，消息 key 为来源 ID。
func (p *Producer) Dispatch(ctx context.Context, task tasks.SourceIngestionTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(task.SourceID), 10)),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是消费者用到的 kafka.Reader 方法。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AttemptCounter 记录每个来源的处理次数，进程重启后重新投递的任务接着计数。
type AttemptCounter interface {
	Incr(ctx context.Context, sourceID uint) (int64, error)
	Reset(ctx context.Context, sourceID uint) error
}

type redisAttempts struct {
	rdb *redis.Client
}

// NewRedisAttemptCounter 用 Redis 计数，key 保留 24 小时。
func NewRedisAttemptCounter(rdb *redis.Client) AttemptCounter {
	return &redisAttempts{rdb: rdb}
}

func (r *redisAttempts) Incr(ctx context.Context, sourceID uint) (int64, error) {
	key := attemptsKey(sourceID)
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = r.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return n, nil
}

func (r *redisAttempts) Reset(ctx context.Context, sourceID uint) error {
	return r.rdb.Del(ctx, attemptsKey(sourceID)).Err()
}

// DefaultRetryBackoff 是第一次重试前的等待时间，之后每次翻倍。
const DefaultRetryBackoff = 2 * time.Second

// Consumer 消费入库任务。失败的任务在当前消息内重试，达到 maxAttempts 后
// 调用 GiveUp 并提交 offset，不依赖 Kafka 重新投递。
type Consumer struct {
	reader      messageReader
	topic       string
	attempts    AttemptCounter
	processor   TaskProcessor
	maxAttempts int64
	backoff     time.Duration
}

// NewConsumer 创建消费者，maxAttempts 小于 1 时按 3 次处理。
func NewConsumer(cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor, maxAttempts int64) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, cfg.Topic, NewRedisAttemptCounter(rdb), processor, maxAttempts)
}

func newConsumer(reader messageReader, topic string, attempts AttemptCounter, processor TaskProcessor, maxAttempts int64) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Consumer{
		reader:      reader,
		topic:       topic,
		attempts:    attempts,
		processor:   processor,
		maxAttempts: maxAttempts,
		backoff:     DefaultRetryBackoff,
	}
}

// Run 阻塞消费直到 ctx 取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}
		c.handle(ctx, m)
	}
}

// handle 处理一条消息。只有在成功、放弃或消息无法解析时才提交 offset；
// ctx 取消导致的中断不提交，重启后由 Kafka 重新投递。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var task tasks.SourceIngestionTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	log.Infof("开始处理入库任务: source=%d, notebook=%d, file=%s", task.SourceID, task.NotebookID, task.FileName)
	var local int64
	wait := c.backoff
	for {
		attempt, cerr := c.attempts.Incr(ctx, task.SourceID)
		local++
		if cerr != nil {
			log.Warnf("记录失败次数失败，使用本地计数: %v", cerr)
			attempt = local
		}

		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("入库任务处理成功: source=%d", task.SourceID)
			if rerr := c.attempts.Reset(ctx, task.SourceID); rerr != nil {
				log.Warnf("清除失败次数失败: %v", rerr)
			}
			c.commit(ctx, m)
			return
		}
		if ctx.Err() != nil {
			log.Warnf("入库任务被中断，等待重新投递: source=%d", task.SourceID)
			return
		}

		log.Errorf("处理入库任务失败(第 %d 次): source=%d, error: %v", attempt, task.SourceID, err)
		if IsPermanent(err) || attempt >= c.maxAttempts {
			log.Errorf("入库任务放弃重试: source=%d", task.SourceID)
			c.processor.GiveUp(ctx, task, err)
			if rerr := c.attempts.Reset(ctx, task.SourceID); rerr != nil {
				log.Warnf("清除失败次数失败: %v", rerr)
			}
			c.commit(ctx, m)
			return
		}

		select {
		case <-ctx.Done():
			log.Warnf("入库任务重试被中断，等待重新投递: source=%d", task.SourceID)
			return
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

// permanentError 标记不需要重试的失败。
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent 包装一个不可重试的错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent 判断错误是否被标记为不可重试。
func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

func attemptsKey(sourceID uint) string {
	return fmt.Sprintf("kafka:attempts:source:%d", sourceID)
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
