package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/tracing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var rabbitTracer = otel.Tracer("resume-match-go/storage/rabbitmq")

// EventPublisher 摄取事件发布接口。
// 事件是旁路通知，发布失败记日志但不影响摄取结果。
type EventPublisher interface {
	// PublishResumeIngested 发布单份简历摄取成功事件
	PublishResumeIngested(ctx context.Context, event *ResumeIngestedEvent) error

	// PublishResumeFailed 发布单份简历摄取失败事件
	PublishResumeFailed(ctx context.Context, event *ResumeFailedEvent) error

	// PublishRunCompleted 发布摄取运行结束事件
	PublishRunCompleted(ctx context.Context, event *RunCompletedEvent) error

	// Close 关闭连接
	Close() error
}

// 确保RabbitMQ实现了EventPublisher接口
var _ EventPublisher = (*RabbitMQ)(nil)

// RabbitMQ 提供消息队列功能
type RabbitMQ struct {
	conn         *amqp.Connection
	channelPool  sync.Pool
	exchangeMap  map[string]bool // 记录已声明的exchange
	publishMutex sync.Mutex      // 保护发布操作
	exchange     string          // 事件交换机名称
	cfg          *config.RabbitMQConfig
}

// NewRabbitMQ 创建RabbitMQ客户端并声明事件交换机
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}

	// 使用配置中的完整URL
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	// 建立连接
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器 (%s): %w", cfg.URL, err)
	}

	exchange := cfg.EventsExchange
	if exchange == "" {
		exchange = constants.ExchangeResumeEvents
	}

	mq := &RabbitMQ{
		conn:        conn,
		exchangeMap: make(map[string]bool),
		exchange:    exchange,
		cfg:         cfg,
	}

	// 初始化channel池
	mq.channelPool = sync.Pool{
		New: func() interface{} {
			ch, errPool := conn.Channel()
			if errPool != nil {
				log.Printf("创建RabbitMQ通道失败: %v", errPool)
				return nil
			}
			return ch
		},
	}

	// 测试连接和通道
	testCh := mq.getChannel()
	if testCh == nil {
		conn.Close()
		return nil, fmt.Errorf("无法创建RabbitMQ通道")
	}
	mq.putChannel(testCh)

	// 事件交换机为topic类型，消费方按路由键模式自行绑定队列
	if err := mq.EnsureExchange(exchange, "topic", true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("声明事件交换机失败: %w", err)
	}

	log.Printf("成功连接到RabbitMQ服务器: %s，事件交换机: %s", cfg.URL, exchange)
	return mq, nil
}

// 获取可用通道
func (r *RabbitMQ) getChannel() *amqp.Channel {
	ch := r.channelPool.Get()
	if ch == nil {
		newCh, err := r.conn.Channel()
		if err != nil {
			log.Printf("创建新RabbitMQ通道失败: %v", err)
			return nil
		}
		return newCh
	}
	return ch.(*amqp.Channel)
}

// 归还通道到池
func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil {
		r.channelPool.Put(ch)
	}
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// EnsureExchange 确保exchange存在
func (r *RabbitMQ) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	// 添加安全检查，防止交换机名为空
	if exchangeName == "" {
		return fmt.Errorf("exchange名称不能为空")
	}

	// 防止尝试声明默认交换机
	if exchangeName == "amq.default" || exchangeName == "default" {
		return fmt.Errorf("不能声明默认交换机 '%s'", exchangeName)
	}

	if _, exists := r.exchangeMap[exchangeName]; exists {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	err := ch.ExchangeDeclare(
		exchangeName, // exchange名称
		exchangeType, // exchange类型
		durable,      // 持久化
		false,        // 自动删除
		false,        // 内部专用
		false,        // 非阻塞
		nil,          // 参数
	)
	if err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}

	r.exchangeMap[exchangeName] = true
	log.Printf("已确保exchange存在: '%s'", exchangeName)
	return nil
}

// PublishMessage 发布消息到exchange
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	// 设置消息属性
	var deliveryMode uint8 = 1 // 非持久化
	if persistent {
		deliveryMode = 2 // 持久化
	}

	// 使用context控制超时
	return ch.PublishWithContext(
		ctx,
		exchangeName, // exchange名
		routingKey,   // 路由键
		false,        // 强制
		false,        // 立即
		amqp.Publishing{
			DeliveryMode: deliveryMode,
			ContentType:  "application/json",
			Body:         message,
			Timestamp:    time.Now(),
		},
	)
}

// PublishJSON 发布JSON格式的消息
func (r *RabbitMQ) PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("JSON序列化失败: %w", err)
	}

	return r.PublishMessage(ctx, exchangeName, routingKey, jsonData, persistent)
}

// PublishResumeIngested 发布单份简历摄取成功事件
func (r *RabbitMQ) PublishResumeIngested(ctx context.Context, event *ResumeIngestedEvent) error {
	return r.publishEvent(ctx, constants.RoutingKeyResumeIngested, event)
}

// PublishResumeFailed 发布单份简历摄取失败事件
func (r *RabbitMQ) PublishResumeFailed(ctx context.Context, event *ResumeFailedEvent) error {
	return r.publishEvent(ctx, constants.RoutingKeyResumeFailed, event)
}

// PublishRunCompleted 发布摄取运行结束事件
func (r *RabbitMQ) PublishRunCompleted(ctx context.Context, event *RunCompletedEvent) error {
	return r.publishEvent(ctx, constants.RoutingKeyRunCompleted, event)
}

// publishEvent 以持久化模式发布领域事件
func (r *RabbitMQ) publishEvent(ctx context.Context, routingKey string, event interface{}) error {
	ctx, span := rabbitTracer.Start(ctx, fmt.Sprintf("RabbitMQ.Publish %s", routingKey),
		trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination.name", r.exchange),
		attribute.String("messaging.rabbitmq.routing_key", routingKey),
	)

	if err := r.PublishJSON(ctx, r.exchange, routingKey, event, true); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("发布事件 %s 失败: %w", routingKey, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
