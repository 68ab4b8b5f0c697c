//go:build !linux

package main

import (
	"errors"

	gpib "github.com/jsalort/linux-gpib-go"
)

func openPrologix(device string) (gpib.Driver, func() error, error) {
	return nil, nil, errors.New("prologix support requires linux")
}
