// Package mqtt connects the camera backend to an MQTT broker.
//
// The broker is an optional side channel: the backend publishes its
// status, camera state and control values there, and operators may
// publish to a control's set topic to override it on every frontend
// bound to that camera.
//
// # Topics
//
// All topics live under camerabe/{backend}; see Topics. The status topic
// is retained and doubles as the Last Will, so a crashed backend shows as
// offline with reason "unexpected_disconnect".
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Backend.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().CameraState(id), state, true)
package mqtt
