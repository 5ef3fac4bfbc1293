package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/andr2000/camera-be/internal/infrastructure/mqtt"
)

// ErrInvalidPayload is returned for a control-set message that carries
// no integer value.
var ErrInvalidPayload = errors.New("telemetry: invalid control value")

// Subscriber is the MQTT surface used for control overrides. It is
// satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
	QoS() byte
}

// Overrider applies a control value to an open camera. It is satisfied
// by *frontend.Manager.
type Overrider interface {
	OverrideControl(uniqueID, name string, value int64) error
}

var _ Subscriber = (*mqtt.Client)(nil)

// SubscribeOverrides routes every control-set message of this backend to
// o. The payload is either a bare integer or {"value": N}.
//
// Parameters:
//   - sub: MQTT client, usually *mqtt.Client
//   - o: Target of the override, usually *frontend.Manager
//   - logger: Optional; nil discards
//
// Returns:
//   - error: If the subscription is refused
//
// Example:
//
//	// mosquitto_pub -t camerabe/dom0/camera/cam0/control/brightness/set -m 40
//	err := telemetry.SubscribeOverrides(mqttClient, manager, log)
func SubscribeOverrides(sub Subscriber, o Overrider, logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}
	topics := sub.Topics()

	handler := func(topic string, payload []byte) error {
		uniqueID, control, ok := topics.ParseControlSet(topic)
		if !ok {
			return fmt.Errorf("unexpected topic %q", topic)
		}
		value, err := ParseControlValue(payload)
		if err != nil {
			return err
		}
		if err := o.OverrideControl(uniqueID, control, value); err != nil {
			return fmt.Errorf("override %s/%s: %w", uniqueID, control, err)
		}
		logger.Debug("control override applied",
			"unique_id", uniqueID,
			"control", control,
			"value", value,
		)
		return nil
	}

	if err := sub.Subscribe(topics.AllControlSets(), sub.QoS(), handler); err != nil {
		return fmt.Errorf("subscribing to control overrides: %w", err)
	}
	return nil
}

// ParseControlValue decodes a control-set payload.
func ParseControlValue(payload []byte) (int64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, ErrInvalidPayload
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}

	var msg struct {
		Value *int64 `json:"value"`
	}
	if err := json.Unmarshal([]byte(s), &msg); err != nil || msg.Value == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPayload, s)
	}
	return *msg.Value, nil
}
