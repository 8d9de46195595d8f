// Package infra holds the adapters to external systems: brokers (MQTT,
// Kafka, NATS, Redis), Postgres, WebSocket clients, metrics backends and
// error reporting. Core packages never import them; app wires them in.
package infra
