package checkout

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	orderNumberPrefix = "ORD-"
	numberAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numberSuffixLen   = 8
)

// NewOrderNumber строит номер вида ORD-<base36(unix ms)>-<8 случайных символов base36>.
// Случайная часть берётся из crypto/rand, поэтому номера не совпадают и внутри одной миллисекунды.
func NewOrderNumber(now time.Time) (string, error) {
	suffix, err := randomBase36(numberSuffixLen)
	if err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}
	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return orderNumberPrefix + stamp + "-" + suffix, nil
}

func randomBase36(n int) (string, error) {
	// 252 - наибольшее кратное 36 не больше 256: отбрасываем хвост, чтобы не было смещения.
	const limit = 252

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, numberAlphabet[int(b)%len(numberAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
