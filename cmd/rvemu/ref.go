package main

import (
	"errors"
	"fmt"

	"github.com/sarchlab/rvemu/config"
	"github.com/sarchlab/rvemu/difftest"
	"github.com/sarchlab/rvemu/difftest/refcore"
)

var errUnicornUnavailable = errors.New("unicorn reference not built in; rebuild with -tags unicorn")

// newRefCore creates the reference named by kind over [base, base+size).
// The returned close function may be nil.
func newRefCore(kind string, base, size uint32) (difftest.RefCore, func() error, error) {
	switch kind {
	case config.RefGo:
		return refcore.New(base, size), nil, nil
	case config.RefUnicorn:
		return newUnicornRef(base, size)
	}
	return nil, nil, fmt.Errorf("unknown reference core %q", kind)
}
