package bridge

import (
	"context"
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"sqmcode-go/errcode"
	"sqmcode-go/types"
	"sqmcode-go/x/mathx"
	"sqmcode-go/x/strx"
)

const (
	availOnline  = "online"
	availOffline = "offline"
)

func availabilityTopic(cfg types.MQTTConfig) string {
	return strx.Coalesce(cfg.TopicValue, "sqm") + "/status"
}

// pahoTransport dials an MQTT broker. Reconnection is supervised by the
// bridge, so paho's own auto-reconnect is off.
type pahoTransport struct {
	cfg      types.MQTTConfig
	clientID string
}

func newPahoTransport(cfg types.MQTTConfig) (Transport, error) {
	if cfg.Broker == "" {
		return nil, errcode.New(errcode.InvalidParams, "bridge.mqtt", "broker is required")
	}
	cfg.QoS = mathx.Clamp(cfg.QoS, 0, 2)
	// Client ids must be unique per broker.
	id := strx.Coalesce(cfg.ClientID, "sqmd") + "-" + uuid.NewString()[:8]
	return &pahoTransport{cfg: cfg, clientID: id}, nil
}

func (p *pahoTransport) String() string { return "mqtt" }

func (p *pahoTransport) Open(ctx context.Context) (Link, error) {
	lost := make(chan error, 1)
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetKeepAlive(p.cfg.KeepAlive.Duration()).
		SetConnectTimeout(p.cfg.ConnectTimeout.Duration()).
		SetWill(availabilityTopic(p.cfg), availOffline, p.cfg.QoS, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case lost <- err:
			default:
			}
		})
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username).SetPassword(p.cfg.Password)
	}

	c := mqtt.NewClient(opts)
	if err := waitToken(ctx, c.Connect(), p.cfg.ConnectTimeout.Duration()); err != nil {
		c.Disconnect(0)
		return nil, errcode.Wrap(errcode.Unavailable, "bridge.connect", err)
	}
	return &pahoLink{c: c, qos: p.cfg.QoS, lost: lost, timeout: p.cfg.ConnectTimeout.Duration()}, nil
}

type pahoLink struct {
	c       mqtt.Client
	qos     byte
	lost    chan error
	timeout time.Duration
}

func (l *pahoLink) Publish(topic string, payload []byte, retained bool) error {
	return waitToken(context.Background(), l.c.Publish(topic, l.qos, retained, payload), l.timeout)
}

func (l *pahoLink) Subscribe(topic string, fn func(string, []byte)) error {
	if topic == "" {
		return nil
	}
	h := func(_ mqtt.Client, m mqtt.Message) { fn(m.Topic(), m.Payload()) }
	return waitToken(context.Background(), l.c.Subscribe(topic, l.qos, h), l.timeout)
}

func (l *pahoLink) Lost() <-chan error { return l.lost }

func (l *pahoLink) Close() { l.c.Disconnect(250) }

var errTokenTimeout = errors.New("mqtt: operation timed out")

// waitToken waits for t, ctx or the timeout, whichever comes first.
func waitToken(ctx context.Context, t mqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tm := time.NewTimer(timeout)
	defer tm.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.C:
		return errcode.Wrap(errcode.Timeout, "bridge.mqtt", errTokenTimeout)
	}
}
