package events

import (
	"strconv"
	"strings"

	"yieldstake/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func ownerString(addr [20]byte) string {
	return crypto.AddressFromArray(crypto.OwnerPrefix, addr).String()
}

func formatRaw(amount uint64) string {
	return strconv.FormatUint(amount, 10)
}
