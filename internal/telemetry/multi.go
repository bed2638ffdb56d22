package telemetry

import (
	"errors"

	"github.com/sweeney/heater-control/internal/logic"
)

// Multi fans every call out to each Publisher in order. All publishers are
// attempted; their errors are joined.
type Multi []Publisher

func (m Multi) PublishStatus(payload []byte) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishStatus(payload))
	}
	return errors.Join(errs...)
}

func (m Multi) PublishEvent(event logic.Event) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishEvent(event))
	}
	return errors.Join(errs...)
}

func (m Multi) PublishSystem(event SystemEvent) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishSystem(event))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
