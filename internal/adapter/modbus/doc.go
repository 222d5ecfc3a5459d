// Package modbus implements the Modbus TCP and RTU adapter on top of
// github.com/goburrow/modbus.
//
// Point addresses use either prefixed notation ("hr:40001", "co:12") or
// traditional numeric references (4xxxx holding, 3xxxx input, 1xxxx
// discrete, 0xxxx coil). Multi-register values decode big-endian.
package modbus
