//go:build unicorn

package main

import (
	"github.com/sarchlab/rvemu/difftest"
	"github.com/sarchlab/rvemu/difftest/unicornref"
)

func newUnicornRef(base, size uint32) (difftest.RefCore, func() error, error) {
	core, err := unicornref.New(base, size)
	if err != nil {
		return nil, nil, err
	}
	return core, core.Close, nil
}
