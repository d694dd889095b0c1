// Package sensorsapi serves the device, observation and device-ingestion REST endpoints.
//
// Account endpoints require a resolved identity and only ever touch the caller's own devices;
// another account's device is reported as not found. The esp32 ingestion endpoints accept form or
// JSON bodies from firmware and hand them to the same Ingestor the realtime channel uses, so both
// transports share validation, attribution and broadcast.
package sensorsapi
