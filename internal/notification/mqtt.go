package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/carefront/platform/internal/shared/config"
)

const (
	publishQoS     = 1
	publishTimeout = 5 * time.Second
)

// MQTTProvider publishes staff pages to the ward messaging broker
type MQTTProvider struct {
	client mqtt.Client
	prefix string
	logger *zap.Logger
}

// pageMessage is the JSON payload delivered to pagers
type pageMessage struct {
	NotificationID string               `json:"notification_id"`
	DecisionID     string               `json:"decision_id"`
	PatientID      string               `json:"patient_id"`
	Priority       NotificationPriority `json:"priority"`
	Subject        string               `json:"subject"`
	Body           string               `json:"body"`
	CreatedAt      time.Time            `json:"created_at"`
}

// NewMQTTProvider connects to the broker
func NewMQTTProvider(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("carefront-%d", time.Now().UnixNano())
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	return newMQTTProvider(client, cfg.TopicPrefix, logger), nil
}

func newMQTTProvider(client mqtt.Client, prefix string, logger *zap.Logger) *MQTTProvider {
	if prefix == "" {
		prefix = "carefront"
	}
	return &MQTTProvider{client: client, prefix: prefix, logger: logger}
}

// Name returns the provider name
func (p *MQTTProvider) Name() string { return "mqtt" }

// Topic returns the topic a recipient's pager listens on
func (p *MQTTProvider) Topic(recipientID string) string {
	return fmt.Sprintf("%s/staff/%s/assignments", p.prefix, recipientID)
}

// Send publishes the notification with at-least-once delivery
func (p *MQTTProvider) Send(ctx context.Context, notification *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(pageMessage{
		NotificationID: notification.ID,
		DecisionID:     notification.DecisionID,
		PatientID:      notification.PatientID,
		Priority:       notification.Priority,
		Subject:        notification.Subject,
		Body:           notification.Body,
		CreatedAt:      notification.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal page: %w", err)
	}

	token := p.client.Publish(p.Topic(notification.RecipientID), publishQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", p.Topic(notification.RecipientID))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish page: %w", err)
	}
	return nil
}

// Close disconnects from the broker
func (p *MQTTProvider) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
