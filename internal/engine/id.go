package engine

import (
	"errors"
	"math/big"
	"math/bits"
	"strings"
)

// OrderID is a 128-bit book-assigned identifier.
type OrderID struct {
	Hi uint64
	Lo uint64
}

var errBadOrderID = errors.New("order id must be a decimal 128-bit unsigned integer")

var firstOrderID = OrderID{Lo: 1}

func (id OrderID) next() OrderID {
	lo, carry := bits.Add64(id.Lo, 1, 0)
	return OrderID{Hi: id.Hi + carry, Lo: lo}
}

func (id OrderID) IsZero() bool {
	return id.Hi == 0 && id.Lo == 0
}

func (id OrderID) Less(o OrderID) bool {
	if id.Hi != o.Hi {
		return id.Hi < o.Hi
	}
	return id.Lo < o.Lo
}

func (id OrderID) Big() *big.Int {
	v := new(big.Int).SetUint64(id.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(id.Lo))
}

func (id OrderID) String() string {
	return id.Big().String()
}

func ParseOrderID(s string) (OrderID, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return OrderID{}, errBadOrderID
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.BitLen() > 128 {
		return OrderID{}, errBadOrderID
	}
	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(v, 64)
	return OrderID{Hi: hi.Uint64(), Lo: lo.Uint64()}, nil
}
