// Package types defines the data units flowing through the gateway:
// raw samples from devices, aggregated records on their way to the store,
// and the rows operators read back.
package types
