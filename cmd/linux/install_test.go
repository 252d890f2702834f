package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUdevRules(t *testing.T) {
	rules := udevRules([]uint16{0x2808, 0x27c6})
	lines := strings.Split(strings.TrimSpace(rules), "\n")

	assert.Len(t, lines, 7)
	assert.Contains(t, rules, `SUBSYSTEM=="usb", ATTRS{idVendor}=="2808"`)
	assert.Contains(t, rules, `SUBSYSTEM=="tty", ATTRS{idVendor}=="27c6"`)
	assert.Contains(t, rules, `KERNEL=="hidraw*", ATTRS{idVendor}=="2808"`)
}

func TestServiceFileTemplate(t *testing.T) {
	assert.Contains(t, serviceFile, "%%INSTALL_DIR%%/bioid -service exec")
}
