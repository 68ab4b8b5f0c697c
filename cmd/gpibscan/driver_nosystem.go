//go:build !linux || !linuxgpib

package main

import (
	"errors"

	gpib "github.com/jsalort/linux-gpib-go"
)

func openSystem() (gpib.Driver, func() error, error) {
	return nil, nil, errors.New("built without linux-gpib support, rebuild with -tags linuxgpib (or use -sim / -prologix)")
}
