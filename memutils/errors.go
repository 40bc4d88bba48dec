package memutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being
// tested is not a power of two
var PowerOfTwoError = errors.New("number must be a power of two")

// NoFitError is the error returned from Range.Alloc when the requested region does not fit
// within the remaining capacity of the range
var NoFitError = errors.New("requested region does not fit in range")
