package sortby

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Func(t *testing.T) {
	assert := assert.New(t)

	expect := []string{
		"entry-1-info",
		"alpha-2-info",
		"delta-7",
		"max-16-info",
	}

	input := []string{
		"alpha-2-info",
		"entry-1-info",
		"max-16-info",
		"delta-7",
	}

	actual := Func(input, func(left, right string) bool {
		leftNum, _ := strconv.Atoi(strings.Split(left, "-")[1])
		rightNum, _ := strconv.Atoi(strings.Split(right, "-")[1])
		return leftNum < rightNum
	})

	assert.Equal(expect, actual)
	assert.Equal("alpha-2-info", input[0], "input must not be modified")
}

func Test_Key(t *testing.T) {
	type device struct {
		owner string
		id    int
	}

	testCases := []struct {
		name   string
		input  []device
		expect []device
	}{
		{
			name:   "empty",
			input:  nil,
			expect: nil,
		},
		{
			name:   "sorted by owner",
			input:  []device{{"c", 1}, {"a", 2}, {"b", 3}},
			expect: []device{{"a", 2}, {"b", 3}, {"c", 1}},
		},
		{
			name:   "equal keys keep their order",
			input:  []device{{"b", 1}, {"a", 2}, {"b", 3}, {"a", 4}},
			expect: []device{{"a", 2}, {"a", 4}, {"b", 1}, {"b", 3}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual := Key(tc.input, func(d device) string { return d.owner })

			assert.Equal(t, tc.expect, actual)
		})
	}
}
