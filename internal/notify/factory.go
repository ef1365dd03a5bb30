package notify

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/rotisserie/eris"

	"github.com/agri-ai/farm-monitor/internal/config"
)

// New builds the dispatcher selected by cfg.Driver.
func New(ctx context.Context, cfg config.NotifyConfig) (Dispatcher, error) {
	switch cfg.Driver {
	case "ses":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, eris.Wrap(err, "notify: load aws config")
		}
		return NewSESDispatcher(sesv2.NewFromConfig(awsCfg), cfg.Sender), nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, eris.New("notify: webhook_url is required")
		}
		return NewWebhookDispatcher(cfg.WebhookURL, nil), nil
	case "mqtt":
		client, err := ConnectMQTT(ctx, cfg.MQTT)
		if err != nil {
			return nil, err
		}
		return NewMQTTDispatcher(client, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS), nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return nil, eris.New("notify: kafka brokers and topic are required")
		}
		return NewKafkaDispatcher(NewKafkaWriter(cfg.Kafka)), nil
	default:
		return nil, eris.Errorf("notify: unsupported driver %q", cfg.Driver)
	}
}
