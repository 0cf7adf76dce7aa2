package referenceframe

import (
	"github.com/pkg/errors"
)

var (
	// ErrNoModelInformation is returned when a robot description is empty.
	ErrNoModelInformation = errors.New("no model information")

	// ErrInvalidDescription is returned when a robot description cannot be turned into a tree.
	ErrInvalidDescription = errors.New("invalid robot description")

	// ErrUnresolvableFrame is returned when a named frame does not exist in the tree.
	ErrUnresolvableFrame = errors.New("unresolvable frame")

	// ErrSingularChain is returned when a chain cannot produce a finite transform.
	ErrSingularChain = errors.New("singular chain")

	// ErrMissingJointState is returned when a moving joint on a chain has no position.
	ErrMissingJointState = errors.New("missing joint state")
)

// NewInvalidDescriptionError wraps a parse failure of a robot description.
func NewInvalidDescriptionError(reason string) error {
	return errors.Wrap(ErrInvalidDescription, reason)
}

// NewUnsupportedJointTypeError returns an error for joint types the tree cannot represent.
func NewUnsupportedJointTypeError(jointName, jointType string) error {
	return errors.Wrapf(ErrInvalidDescription, "joint %q has unsupported type %q", jointName, jointType)
}

// NewFrameMissingError returns an error indicating that the given frame is not in the tree.
func NewFrameMissingError(frameName string) error {
	return errors.Wrapf(ErrUnresolvableFrame, "frame %q not found", frameName)
}

// NewSingularChainError returns an error naming the joint that broke a chain.
func NewSingularChainError(jointName, reason string) error {
	return errors.Wrapf(ErrSingularChain, "joint %q: %s", jointName, reason)
}

// NewMissingJointStateError returns an error naming the joint without a position.
func NewMissingJointStateError(jointName string) error {
	return errors.Wrapf(ErrMissingJointState, "no position for joint %q", jointName)
}
