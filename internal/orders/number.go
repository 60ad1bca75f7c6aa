package orders

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"
)

var orderNumberSpace = big.NewInt(1_000_000)

// newOrderNumber returns yyMMdd followed by six random digits.
func newOrderNumber(now time.Time, rnd io.Reader) (string, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	n, err := rand.Int(rnd, orderNumberSpace)
	if err != nil {
		return "", fmt.Errorf("order number: %w", err)
	}
	return fmt.Sprintf("%s%06d", now.Format("060102"), n.Int64()), nil
}
