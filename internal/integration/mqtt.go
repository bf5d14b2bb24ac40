package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/forwarder"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// MQTTConfig represents the broker connection
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTT publishes on <prefix>/<eui>/<event> and takes downlinks from <prefix>/<eui>/tx
type MQTT struct {
	client    mqtt.Client
	cfg       MQTTConfig
	gatewayID string
}

// NewMQTT connects to the broker
func NewMQTT(cfg MQTTConfig, gatewayID string) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	// 连接处理
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}

	return &MQTT{client: client, cfg: cfg, gatewayID: gatewayID}, nil
}

func mqttTopic(prefix, gatewayID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, gatewayID, kind)
}

func (m *MQTT) publish(kind string, payload interface{}) {
	data, err := json.Marshal(newEvent(kind, m.gatewayID, payload))
	if err != nil {
		log.Error().Err(err).Msg("marshal MQTT event")
		return
	}

	topic := mqttTopic(m.cfg.TopicPrefix, m.gatewayID, kind)
	token := m.client.Publish(topic, m.cfg.QoS, false, data)

	// 不在转发循环里等待确认
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			log.Error().Str("topic", topic).Msg("MQTT publish timeout")
			return
		}
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("Failed to publish to MQTT")
		}
	}()
}

func (m *MQTT) UplinkForwarded(_ context.Context, frame *models.UplinkFrame) {
	m.publish(EventUplink, frame)
}

func (m *MQTT) DownlinkHandled(_ context.Context, res *models.DownlinkResult) {
	m.publish(EventTxAck, res)
}

func (m *MQTT) StatsReported(_ context.Context, st *models.GatewayStats) {
	m.publish(EventStats, st)
}

// Run serves downlink commands until ctx is cancelled. Results come back on the txack topic.
func (m *MQTT) Run(ctx context.Context, sub Submitter) error {
	topic := mqttTopic(m.cfg.TopicPrefix, m.gatewayID, "tx")

	token := m.client.Subscribe(topic, m.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		go handleCommand(ctx, sub, forwarder.SourceMQTT, msg.Payload())
	})
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}

	log.Info().Str("topic", topic).Msg("MQTT downlink subscription started")

	<-ctx.Done()
	m.client.Unsubscribe(topic).WaitTimeout(time.Second)
	m.client.Disconnect(250)
	return nil
}
