package easing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEasingsStartAndEnd(t *testing.T) {
	for name, f := range map[string]Func{
		"OutCirc":     OutCirc,
		"OutExponent": OutExponent,
		"OutQuint":    OutQuint,
		"OutSine":     OutSine,
	} {
		assert.InDeltaf(t, 0, f(0), 1e-9, "%s(0)", name)
		assert.InDeltaf(t, 1, f(1), 1e-9, "%s(1)", name)
	}
}
