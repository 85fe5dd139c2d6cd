// Package daqstreams is a sensor data acquisition and processing
// pipeline. Transport adapters (serial, TCP, UDP, MQTT) read raw device
// frames, the demuxer routes decoded samples into per-channel ring
// buffers, and a scheduler dispatches overlapping sample windows through
// per-channel processing pipelines (resampling, filtering, spectral
// analysis, anomaly detection). Results fan out over an in-process bus
// to JetStream and WebSocket outputs while a health monitor tracks each
// channel through Active, Degraded and Disconnected states.
//
// The engine package wires everything together from a validated
// configuration; cmd/daqstreams is the runnable node.
package daqstreams
