//go:build linux

package main

import (
	gpib "github.com/jsalort/linux-gpib-go"
)

func openPrologix(device string) (gpib.Driver, func() error, error) {
	plx, err := gpib.OpenPrologix(device)
	if err != nil {
		return nil, nil, err
	}
	return plx, plx.Close, nil
}
