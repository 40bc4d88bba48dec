package memory

import "github.com/cockroachdb/errors"

// OutOfMemoryError is returned when an allocator strategy cannot satisfy a request: the
// device is out of memory, the per-device allocation count limit was reached, or a
// pre-planned pool has no room left.
var OutOfMemoryError = errors.New("out of device memory")

// UnsupportedMemoryTypeError is returned when no entry in the physical device's memory
// type table is both permitted by the request's type bits and a superset of the requested
// classification's property flags.
var UnsupportedMemoryTypeError = errors.New("no memory type satisfies the request")

// DeviceError marks opaque failures propagated from the underlying graphics API. Use
// errors.Is against this value to distinguish driver failures from allocator logic.
var DeviceError = errors.New("device error")

// MarkDeviceError combines an underlying graphics API failure with DeviceError, keeping
// DeviceError in the unwrap chain so plain errors.Is classifies it. The driver failure's
// message is preserved and the failure itself rides along for verbose formatting.
func MarkDeviceError(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithSecondaryError(errors.Wrapf(DeviceError, "%v", err), err)
}
