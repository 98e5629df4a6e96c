// Package device defines the transport boundary between the EEG session and
// the BLE stack that carries it.
//
// The session only ever needs a narrow slice of BLE:
//   - scanning for advertisements filtered by service
//   - connecting to one peripheral by address
//   - discovering one service and one characteristic on it
//   - subscribing to notifications and observing link loss
//
// Concrete implementations live in subpackages (see device/goble).
package device
