// Package sensors owns devices and the observations they report.
//
// Ingestor is the single write path for motion events and sensor readings. Both the realtime
// gateway and the HTTP ingestion endpoints call it, so device resolution, the owner-conflict
// policy and timestamp fallback behave identically on every transport.
package sensors
