//go:build !linux

package gpio

import "fmt"

// OpenInput is only supported on Linux.
func OpenInput(cfg InputConfig) (EdgeLine, error) {
	return nil, fmt.Errorf("%w: input %s/%d: GPIO character device requires linux", ErrUnavailable, cfg.Chip, cfg.Offset)
}

// OpenOutput is only supported on Linux.
func OpenOutput(cfg OutputConfig) (OutputLine, error) {
	return nil, fmt.Errorf("%w: output %s/%d: GPIO character device requires linux", ErrUnavailable, cfg.Chip, cfg.Offset)
}
