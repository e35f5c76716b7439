package usecase

import (
	"errors"
	"fmt"

	"floatplay/internal/domain"
)

// wrapServerStart keeps the kind of errors that already carry one and
// files everything else, timeouts included, under ErrServerStartFailed.
func wrapServerStart(err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindUnknown {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrServerStartFailed, err)
}

func wrapTranscode(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrTranscodeProcess) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTranscodeProcess, err)
}
