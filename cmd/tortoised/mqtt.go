package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Comcast/tortoise/config"
	"github.com/Comcast/tortoise/core"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTT lets devices announce milestones by publishing to
//
//	PREFIX/ENTITY/EVENT
//
// The payload is optional.  If it's a JSON object, its "workflow"
// names the workflow, and "quiet" is the usual option.  Without a
// workflow, the only workflow with the event is used.
//
// Results go to PREFIX/results/ENTITY/EVENT, and every observation
// goes to PREFIX/observations/WORKFLOW/ENTITY.
type MQTT struct {
	Client  mqtt.Client
	Prefix  string
	QoS     byte
	Quiesce uint

	// Timeout limits each Invoke.
	Timeout time.Duration

	Service *Service
	Logger  *slog.Logger
}

// request is the optional payload of an incoming message.
type request struct {
	Workflow string `json:"workflow,omitempty"`
	Quiet    bool   `json:"quiet,omitempty"`
}

// reply is what we publish after handling a message.
type reply struct {
	Workflow string       `json:"workflow,omitempty"`
	Entity   string       `json:"entity"`
	Event    string       `json:"event"`
	Result   *core.Result `json:"result,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// NewMQTT makes an MQTT for the service.  Call Start to connect.
func NewMQTT(ctx context.Context, cfg config.MQTTConfig, s *Service) *MQTT {
	m := &MQTT{
		Prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		QoS:     cfg.QoS,
		Quiesce: 250,
		Timeout: time.Minute,
		Service: s,
		Logger:  s.Logger,
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "tortoised-" + uuid.New().String()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.AutoReconnect = true
	opts.CleanSession = true
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		m.Logger.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = func(client mqtt.Client) {
		if err := m.subscribe(); err != nil {
			m.Logger.Error("mqtt subscribe", "error", err)
		}
	}
	opts.DefaultPublishHandler = func(client mqtt.Client, msg mqtt.Message) {
		m.inHandler(ctx, msg)
	}
	m.Client = mqtt.NewClient(opts)
	return m
}

// Start connects to the broker.  Subscriptions happen on every
// (re)connect.
func (m *MQTT) Start(ctx context.Context) error {
	m.Logger.Info("mqtt connecting")
	if token := m.Client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	m.Logger.Info("mqtt connected")
	return nil
}

func (m *MQTT) subscribe() error {
	topic := m.Prefix + "/+/+"
	m.Logger.Info("mqtt subscribing", "topic", topic, "qos", m.QoS)
	if t := m.Client.Subscribe(topic, m.QoS, nil); t.Wait() && t.Error() != nil {
		return t.Error()
	}
	return nil
}

// Stop disconnects.
func (m *MQTT) Stop() {
	m.Logger.Info("mqtt disconnecting")
	m.Client.Disconnect(m.Quiesce)
}

// parseTopic returns the entity and event in PREFIX/ENTITY/EVENT.
func (m *MQTT) parseTopic(topic string) (entity, event string, err error) {
	rest := strings.TrimPrefix(topic, m.Prefix+"/")
	if rest == topic {
		return "", "", fmt.Errorf("topic %q isn't under %q", topic, m.Prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("topic %q isn't %s/ENTITY/EVENT", topic, m.Prefix)
	}
	return parts[0], parts[1], nil
}

// handle invokes the event the message names.
func (m *MQTT) handle(ctx context.Context, topic string, payload []byte) (*reply, error) {
	entity, event, err := m.parseTopic(topic)
	if err != nil {
		return nil, err
	}
	r := &reply{Entity: entity, Event: event}

	var req request
	if p := strings.TrimSpace(string(payload)); p != "" {
		if err := json.Unmarshal(payload, &req); err != nil {
			m.Logger.Debug("mqtt payload isn't a request", "topic", topic, "error", err)
		}
	}

	name := req.Workflow
	if name == "" {
		if name, err = m.Service.workflowFor(event); err != nil {
			return r, err
		}
	}
	r.Workflow = name

	sup, err := m.Service.supervisor(name)
	if err != nil {
		return r, err
	}

	if 0 < m.Timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}
	res, err := sup.Invoke(ctx, event, entity, core.TransitionOptions{Quiet: req.Quiet})
	if err != nil {
		return r, err
	}
	r.Result = res
	return r, nil
}

// inHandler is the Paho publish handler for our subscription.
func (m *MQTT) inHandler(ctx context.Context, msg mqtt.Message) {
	m.Logger.Debug("mqtt incoming", "topic", msg.Topic(), "payload", string(msg.Payload()))
	r, err := m.handle(ctx, msg.Topic(), msg.Payload())
	if r == nil {
		m.Logger.Warn("mqtt ignored", "topic", msg.Topic(), "error", err)
		return
	}
	if err != nil {
		r.Error = err.Error()
		m.Logger.Warn("mqtt invoke", "topic", msg.Topic(), "error", err)
	}
	m.publish(m.Prefix+"/results/"+r.Entity+"/"+r.Event, r)
}

// Observe implements core.Observer.  It doesn't wait for the
// broker.
func (m *MQTT) Observe(ctx context.Context, o core.Observation) {
	m.publish(m.Prefix+"/observations/"+o.Workflow+"/"+o.Entity, o)
}

func (m *MQTT) publish(topic string, x interface{}) {
	if m.Client == nil || !m.Client.IsConnected() {
		return
	}
	js, err := json.Marshal(x)
	if err != nil {
		m.Logger.Warn("mqtt marshal", "topic", topic, "error", err)
		return
	}
	m.Client.Publish(topic, m.QoS, false, js)
}
