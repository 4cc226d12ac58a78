// Package envlink ingests environmental-sensor telemetry from remote data
// servers over long-lived TCP or WebSocket connections, reduces raw
// per-sample readings to statistically summarized telemetry over fixed
// time windows, and survives transient communication failures with a
// graduated escalation policy.
//
// # Architecture
//
// The data path is a single cooperative loop per client:
//
//	┌─────────────────────────────────────┐
//	│            Read Loop                │  connection state machine
//	│  (connect, read, route, escalate)   │  failure policy
//	└─────────────────────────────────────┘
//	           ↓ routes via
//	┌─────────────────────────────────────┐
//	│        Protocol Codec               │  command / response /
//	│    (JSON line protocol)             │  telemetry messages
//	└─────────────────────────────────────┘
//	           ↓ feeds
//	┌─────────────────────────────────────┐
//	│       Accumulator Set               │  linear, quartile-robust
//	│  (per-channel statistics windows)   │  and circular statistics
//	└─────────────────────────────────────┘
//	           ↓ flushes to
//	┌─────────────────────────────────────┐
//	│          Output Sink                │  bounded drop-oldest queue,
//	│  (NATS JetStream, in-memory)        │  fault notifications
//	└─────────────────────────────────────┘
//
// Each flushed summary and each fault notification crosses to the
// supervising component as one atomic message through the sink boundary.
// The supervisor owns enable/disable/fault policy; envlink only reports
// faults and accepts an explicit reset.
//
// # Packages
//
//   - protocol: pure codec for the three wire message kinds
//   - accumulator: per-channel statistics windows and summaries
//   - client: connection manager, command dispatcher, read loop,
//     failure policy
//   - client/mock: mock sensor server for tests
//   - sink: output hand-off boundary with backpressure
//   - component: lifecycle and health surface
//   - health: system health aggregation and monitoring
//   - metric: Prometheus metrics registry
//   - natsclient: managed NATS connection
//   - pkg/retry: bounded exponential backoff
//   - pkg/buffer: generic bounded queue
//   - pkg/timestamp: sensor wire clock conversion
package envlink
