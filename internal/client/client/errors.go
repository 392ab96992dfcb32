package client

import (
	"errors"
	"fmt"

	"github.com/NadirInab/datavis-sub001/internal/common"
)

var (
	ErrUnavailable  = fmt.Errorf("server unavailable: %w", common.ErrNetworkUnavailable)
	ErrUnauthorized = errors.New("unauthorized")
)

func syncFailed(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrSyncFailed, err)
}
