package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkParams_Equal(t *testing.T) {
	a := LinkParams{BaudRate: 9600, Parity: ParityNone, DataBits: 8, StopBits: 1}
	b := LinkParams{BaudRate: 9600, Parity: ParityNone, DataBits: 8, StopBits: 1}
	c := LinkParams{BaudRate: 19200, Parity: ParityNone, DataBits: 8, StopBits: 1}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestSlaveID_Valid(t *testing.T) {
	assert.False(t, SlaveID(0).Valid())
	assert.True(t, SlaveID(1).Valid())
	assert.True(t, SlaveID(247).Valid())
	assert.False(t, SlaveID(248).Valid())
}
