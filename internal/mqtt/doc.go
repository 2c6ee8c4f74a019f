// Package mqtt publishes Home Assistant MQTT discovery messages and
// periodic sensor state updates so Arbiter appears as a native HA
// device with availability tracking. Sensors cover process health
// (uptime, version, backend model) and routing activity (messages
// routed, busy rejections, per-capability dispatch counters) drawn
// from the operational event bus.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each sensor entity and a birth message ("online") to the
// availability topic. A will message ensures the availability topic
// transitions to "offline" on unexpected disconnects.
package mqtt
