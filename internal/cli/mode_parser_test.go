package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		name string
		args []string
		env  string
		mode string
		rest []string
	}{
		{"flag", []string{"--mode=billing"}, "", ModeBilling, nil},
		{"positional", []string{"gateway"}, "", ModeGateway, nil},
		{"alias", []string{"consumer"}, "", ModeBilling, nil},
		{"env", nil, "api-gateway", ModeGateway, nil},
		{"argument wins over env", []string{"billing"}, "gateway", ModeBilling, nil},
		{"leftovers", []string{"gateway", "extra"}, "", ModeGateway, []string{"extra"}},
		{"none", nil, "", "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mode, rest, err := ParseMode(tc.args, tc.env)
			require.NoError(t, err)
			assert.Equal(t, tc.mode, mode)
			assert.Equal(t, tc.rest, rest)
		})
	}
}

func TestParseMode_Unknown(t *testing.T) {
	_, _, err := ParseMode([]string{"--mode=kitchen"}, "")
	assert.EqualError(t, err, `unknown mode "kitchen"`)

	_, _, err = ParseMode(nil, "inventory")
	assert.Error(t, err)
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	PrintUsage(&buf)
	assert.Contains(t, buf.String(), "gateway")
	assert.Contains(t, buf.String(), "billing")
}
