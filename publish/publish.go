package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/hours"
	"github.com/icodeforyou/solarplant-dispatch/optimize"
)

const publishTimeout = 10 * time.Second

type Step struct {
	Time      string  `json:"time"`
	BatteryKW float64 `json:"battery_kw"`
	MeterKW   float64 `json:"meter_kw"`
	SOCKWh    float64 `json:"soc_kwh"`
}

// Message is the payload published after every successful run.
type Message struct {
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Formulation string    `json:"formulation"`
	Objective   float64   `json:"objective"`
	PeakKW      float64   `json:"peak_kw"`
	Schedule    []Step    `json:"schedule"`
}

func NewMessage(runID string, createdAt time.Time, s optimize.Schedule) Message {
	msg := Message{
		RunID:       runID,
		CreatedAt:   createdAt.UTC(),
		Formulation: s.Formulation,
		Objective:   s.Objective,
		PeakKW:      s.PeakKW,
		Schedule:    make([]Step, len(s.Rows)),
	}
	for i, r := range s.Rows {
		msg.Schedule[i] = Step{
			Time:      hours.FormatTimestamp(r.Time),
			BatteryKW: r.BatteryKW,
			MeterKW:   r.MeterKW,
			SOCKWh:    r.SOCKWh,
		}
	}
	return msg
}

type Publisher struct {
	client mqtt.Client
	logger *slog.Logger
	topic  string
}

func New(cnfg config.AppConfigMqtt) *Publisher {
	logger := slog.Default().With("module", "publish")
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cnfg.Host, cnfg.Port))
	opts.SetClientID(cnfg.GetClientId())
	opts.SetUsername(cnfg.Username)
	opts.SetPassword(cnfg.Password)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("MQTT connected")
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	}

	mqttLogger := slog.Default().With("module", "mqtt")
	mqtt.CRITICAL = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.ERROR = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.WARN = newMqttLogger(mqttLogger, slog.LevelWarn)

	return &Publisher{
		client: mqtt.NewClient(opts),
		logger: logger,
		topic:  cnfg.GetTopic(),
	}
}

func (p *Publisher) Connect() error {
	p.logger.Debug("connecting MQTT client")
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (p *Publisher) Disconnect() {
	p.logger.Info("disconnecting MQTT client")
	p.client.Disconnect(250)
}

// Publish sends msg as a retained message, so late subscribers get the latest schedule.
func (p *Publisher) Publish(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding schedule message: %w", err)
	}

	token := p.client.Publish(p.topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("timeout publishing schedule")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing schedule: %w", err)
	}

	p.logger.Debug("schedule published", slog.String("topic", p.topic), slog.String("run", msg.RunID))
	return nil
}
