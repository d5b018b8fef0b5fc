//go:build !unicorn

package main

import "github.com/sarchlab/rvemu/difftest"

func newUnicornRef(base, size uint32) (difftest.RefCore, func() error, error) {
	return nil, nil, errUnicornUnavailable
}
