// Package device provides the SDC device model shared by discovery, connection
// management and metric ingestion.
//
// This package defines:
//   - DeviceRecord snapshots and the connection Status state machine
//   - LocationInfo and the advertisement normalization rules
//   - The discovery transport and session binding interfaces
//   - Typed discovery and connection errors comparable with errors.Is
//
// The wire protocol (WS-Discovery, SOAP, subscriptions) lives behind the
// DiscoveryTransport and SessionBinding interfaces.
package device
