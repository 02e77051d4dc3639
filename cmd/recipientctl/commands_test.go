package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_parseDevices(t *testing.T) {
	testCases := []struct {
		name      string
		args      []string
		expect    []uint32
		expectErr bool
	}{
		{
			name:   "none",
			args:   nil,
			expect: []uint32{},
		},
		{
			name:   "several",
			args:   []string{"1", "42", "4294967295"},
			expect: []uint32{1, 42, 4294967295},
		},
		{
			name:      "too big",
			args:      []string{"4294967296"},
			expectErr: true,
		},
		{
			name:      "negative",
			args:      []string{"-1"},
			expectErr: true,
		},
		{
			name:      "not a number",
			args:      []string{"1", "two"},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual, err := parseDevices(tc.args)
			if tc.expectErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.expect, actual)
		})
	}
}

func Test_commands_Usage(t *testing.T) {
	for name, cmd := range commands {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			assert.NotNil(cmd.run)
			assert.Regexp("^"+name+`(\s|$)`, cmd.usage)
			if cmd.maxArgs >= 0 {
				assert.GreaterOrEqual(cmd.maxArgs, cmd.minArgs)
			}
		})
	}
}
