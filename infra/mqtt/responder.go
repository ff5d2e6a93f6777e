package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremetrics "github.com/kilianp07/evrange/core/metrics"
	coremon "github.com/kilianp07/evrange/core/monitoring"
	"github.com/kilianp07/evrange/core/prediction"
	"github.com/kilianp07/evrange/infra/logger"
	"github.com/kilianp07/evrange/internal/eventbus"
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Request is the payload expected on the request topic. A bare JSON array of
// rows is accepted as well.
type Request struct {
	RequestID string           `json:"request_id"`
	Rows      []prediction.Row `json:"rows"`
}

// Response is published on the vehicle's response topic.
type Response struct {
	VehicleID string   `json:"vehicle_id"`
	RequestID string   `json:"request_id"`
	RangeKm   *float64 `json:"predicted_remaining_range_km,omitempty"`
	Error     string   `json:"error,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Responder answers range requests received over MQTT.
type Responder struct {
	cli       pahoClient
	cfg       Config
	predictor prediction.RangePredictor
	bus       eventbus.EventBus
	log       logger.Logger
}

// NewResponder connects to the broker and subscribes to cfg.RequestTopic.
// The subscription is renewed on every reconnect. bus may be nil.
func NewResponder(cfg Config, predictor prediction.RangePredictor, bus eventbus.EventBus) (*Responder, error) {
	cfg.SetDefaults()
	if predictor == nil {
		return nil, fmt.Errorf("responder requires a predictor")
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	r := &Responder{cfg: cfg, predictor: predictor, bus: bus, log: logger.New("mqtt_responder")}
	opts.OnConnect = func(c paho.Client) {
		r.log.Infof("MQTT connected, subscribing to %s", cfg.RequestTopic)
		if token := c.Subscribe(cfg.RequestTopic, cfg.qos("request"), r.onRequest); token.Wait() && token.Error() != nil {
			r.log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		r.log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		r.log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	r.cli = c
	return r, nil
}

func (r *Responder) onRequest(_ paho.Client, msg paho.Message) {
	start := time.Now()
	vehicleID := vehicleFromTopic(msg.Topic())
	resp := Response{VehicleID: vehicleID}

	req, err := decodeRequest(msg.Payload())
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	resp.RequestID = req.RequestID
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.TimeoutMS)*time.Millisecond)
		var km float64
		km, err = r.predictor.PredictRange(ctx, req.Rows)
		cancel()
		if err == nil {
			resp.RangeKm = &km
		}
	}
	if err != nil {
		resp.Error = err.Error()
		r.log.Warnf("request %s from %s failed: %v", req.RequestID, vehicleID, err)
	}
	resp.Timestamp = time.Now().UnixMilli()

	if perr := r.publish(vehicleID, resp); perr != nil {
		r.log.Errorf("publish response %s: %v", req.RequestID, perr)
		coremon.CaptureException(perr, map[string]string{"vehicle_id": vehicleID, "module": "mqtt"})
	}
	if r.bus != nil {
		ev := coremetrics.PredictionEvent{
			Source:    "mqtt",
			VehicleID: vehicleID,
			Error:     resp.Error,
			Latency:   time.Since(start),
			Time:      time.Now(),
		}
		if resp.RangeKm != nil {
			ev.RangeKm = *resp.RangeKm
		}
		r.bus.Publish(ev)
	}
}

func (r *Responder) publish(vehicleID string, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf(r.cfg.ResponseTopic, vehicleID)
	backoff := time.Duration(r.cfg.BackoffMS) * time.Millisecond
	var publishErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		token := r.cli.Publish(topic, r.cfg.qos("response"), false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			r.log.Debugf("sent response %s to %s", resp.RequestID, topic)
			return nil
		}
		r.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < r.cfg.MaxRetries {
			time.Sleep(backoff * time.Duration(1<<attempt))
		}
	}
	return publishErr
}

// Close gracefully closes the MQTT connection.
func (r *Responder) Close() {
	if r.cli != nil && r.cli.IsConnected() {
		r.cli.Disconnect(250)
	}
}

func decodeRequest(payload []byte) (Request, error) {
	var req Request
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(payload, &req.Rows); err != nil {
			return req, fmt.Errorf("decode rows: %w", err)
		}
		return req, nil
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if req.Rows == nil {
		return req, errors.New("request has no rows")
	}
	return req, nil
}

// vehicleFromTopic returns the second topic level, e.g. "ev1" for
// "evrange/ev1/window".
func vehicleFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return "unknown"
	}
	return parts[1]
}
