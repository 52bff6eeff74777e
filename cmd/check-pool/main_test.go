package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTiers(t *testing.T) {
	assert.Equal(t, []uint32{500, 3000}, parseTiers(" 500, 3000 "))
	assert.Equal(t, []uint32{100}, parseTiers("100,x,0"))
	assert.Equal(t, []uint32{100, 500, 3000, 10000}, parseTiers(""))
}
