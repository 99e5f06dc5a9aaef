package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// maxCASRetries bounds optimistic read-modify-write loops on the shared stores.
const maxCASRetries = 16

var ErrConflict = errors.New("repository: concurrent update conflict")

const (
	botKeyFmt       = "circuit_breaker:bot:%d"
	portfolioKey    = "circuit_breaker:portfolio"
	ledgerKey       = "wallet:ledger"
	nonceKeyFmt     = "nonce:%s"
	nonceBaseKeyFmt = "nonce:%s:base"
	nonceUsedKeyFmt = "nonce:%s:used"
)

func botKey(botID int) string {
	return fmt.Sprintf(botKeyFmt, botID)
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
