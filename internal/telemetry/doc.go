// Package telemetry reports camera backend activity to MQTT and InfluxDB.
//
// A Reporter implements frontend.Telemetry: every processed request and
// control change is written to InfluxDB as it happens, and control values
// are published on their retained MQTT topics. Run also publishes the
// state of every open camera and the connected sessions on a ticker.
//
// SubscribeOverrides wires the MQTT control-set topics to
// frontend.Manager.OverrideControl so an operator can change a control
// for every frontend bound to a camera.
//
// Either sink may be absent; a Reporter with neither only tracks state.
package telemetry
