package registry

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const argsABI = `[{"inputs":[
  {"name":"who","type":"address"},
  {"name":"amount","type":"uint256"},
  {"name":"small","type":"uint8"},
  {"name":"delta","type":"int24"},
  {"name":"flag","type":"bool"},
  {"name":"tag","type":"bytes4"},
  {"name":"note","type":"string"}
],"name":"f","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

func TestParseArgs(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(argsABI))
	require.NoError(t, err)
	inputs := parsed.Methods["f"].Inputs

	values, err := ParseArgs(inputs, []string{
		"0x1111111111111111111111111111111111111111",
		"1000000000000000000",
		"0x10",
		"-5",
		"true",
		"0xdeadbeef",
		"hello",
	})
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), values[0])
	assert.Equal(t, "1000000000000000000", values[1].(*big.Int).String())
	assert.Equal(t, uint8(16), values[2])
	assert.Equal(t, int64(-5), values[3].(*big.Int).Int64())
	assert.Equal(t, true, values[4])
	assert.Equal(t, [4]byte{0xde, 0xad, 0xbe, 0xef}, values[5])
	assert.Equal(t, "hello", values[6])

	// The parsed values must be accepted by the encoder.
	_, err = parsed.Pack("f", values...)
	require.NoError(t, err)
}

func TestParseArgsErrors(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(argsABI))
	require.NoError(t, err)
	inputs := parsed.Methods["f"].Inputs

	valid := []string{"0x1111111111111111111111111111111111111111", "1", "1", "1", "true", "0x00", "x"}

	tests := []struct {
		name  string
		index int
		value string
	}{
		{name: "bad address", index: 0, value: "0x123"},
		{name: "negative uint", index: 1, value: "-1"},
		{name: "uint8 overflow", index: 2, value: "256"},
		{name: "int24 overflow", index: 3, value: "8388608"},
		{name: "bad bool", index: 4, value: "maybe"},
		{name: "bytes4 too long", index: 5, value: "0x0102030405"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := append([]string(nil), valid...)
			in[tt.index] = tt.value
			_, err := ParseArgs(inputs, in)
			require.Error(t, err)
		})
	}

	_, err = ParseArgs(inputs, valid[:2])
	require.Error(t, err)

	// int24 minimum is accepted.
	in := append([]string(nil), valid...)
	in[3] = "-8388608"
	_, err = ParseArgs(inputs, in)
	require.NoError(t, err)
}
