package clickhouse

import (
	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// formatOptional leaves the zero address empty, as mints and burns carry one.
func formatOptional(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return domain.FormatAddress(addr)
}
