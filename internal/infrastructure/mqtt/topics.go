package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every camera backend topic.
const TopicPrefix = "camerabe"

// Topics builds the topic tree of one backend instance:
//
//	camerabe/{backend}/status
//	camerabe/{backend}/sessions
//	camerabe/{backend}/camera/{unique_id}/state
//	camerabe/{backend}/camera/{unique_id}/control/{name}
//	camerabe/{backend}/camera/{unique_id}/control/{name}/set
type Topics struct {
	Backend string
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicPrefix, t.Backend)
}

// Status returns the retained online/offline topic, also used for the LWT.
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Sessions returns the topic listing connected frontends.
func (t Topics) Sessions() string {
	return t.base() + "/sessions"
}

// CameraState returns the retained device status topic.
//
// Example: camerabe/dom0/camera/usb-046d_HD_Webcam-video-index0/state
func (t Topics) CameraState(uniqueID string) string {
	return fmt.Sprintf("%s/camera/%s/state", t.base(), uniqueID)
}

// CameraControl returns the topic carrying a control's last value.
func (t Topics) CameraControl(uniqueID, control string) string {
	return fmt.Sprintf("%s/camera/%s/control/%s", t.base(), uniqueID, strings.ToLower(control))
}

// CameraControlSet returns the topic operators publish to in order to
// change a control.
func (t Topics) CameraControlSet(uniqueID, control string) string {
	return t.CameraControl(uniqueID, control) + "/set"
}

// AllControlSets matches every control-set topic of this backend.
//
// Pattern: camerabe/{backend}/camera/+/control/+/set
func (t Topics) AllControlSets() string {
	return t.base() + "/camera/+/control/+/set"
}

// ParseControlSet extracts the unique id and control name from a
// control-set topic of this backend.
func (t Topics) ParseControlSet(topic string) (uniqueID, control string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.base()+"/camera/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] != "control" || parts[3] != "set" {
		return "", "", false
	}
	if parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}
