package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	kinds := Kinds()
	assert.IsNonDecreasing(t, kinds)
	assert.Contains(t, kinds, "cisco_ios")
	assert.Contains(t, kinds, "tplink_jetstream")
	assert.Len(t, kinds, len(dialects))
}

func TestPromptPattern(t *testing.T) {
	ios, _ := LookupDialect("cisco_ios")
	junos, _ := LookupDialect("juniper_junos")
	tplink, _ := LookupDialect("tplink_jetstream")

	tests := []struct {
		name    string
		dialect Dialect
		output  string
		prompt  string
		base    string
	}{
		{"privileged", ios, "\nRouter#", "Router#", "Router"},
		{"user exec", ios, "banner\nsw-core-01>", "sw-core-01>", "sw-core-01"},
		{"config mode", ios, "\nRouter(config-if)#", "Router(config-if)#", "Router"},
		{"trailing space", junos, "\nadmin@vmx1> ", "admin@vmx1>", "admin@vmx1"},
		{"junos shell", junos, "\nroot@vmx1% ", "root@vmx1%", "root@vmx1"},
		{"jetstream", tplink, "\nSG2210XMP-M2(config)#", "SG2210XMP-M2(config)#", "SG2210XMP-M2"},
		{"start of buffer", ios, "Router#", "Router#", "Router"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.dialect.promptPattern().FindStringSubmatch(tt.output)
			require.Len(t, m, 3)
			assert.Equal(t, tt.prompt, m[1])
			assert.Equal(t, tt.base, m[2])
		})
	}
}

func TestPromptPattern_NoMatch(t *testing.T) {
	ios, _ := LookupDialect("cisco_ios")
	for _, out := range []string{
		"show ip interface brief",
		"\nRouter#show ver",
		"\n% Invalid input detected at '^' marker.",
	} {
		assert.False(t, ios.promptPattern().MatchString(out), out)
	}
}

func TestBasePromptPattern(t *testing.T) {
	ios, _ := LookupDialect("cisco_ios")
	re := ios.basePromptPattern("Router")

	assert.True(t, re.MatchString("output\nRouter#"))
	assert.True(t, re.MatchString("output\nRouter(config)#"))
	assert.False(t, re.MatchString("output\nSwitch#"))
	assert.False(t, re.MatchString("output\nRouter.bak#"))
}

func TestStripEchoAndPrompt(t *testing.T) {
	ios, _ := LookupDialect("cisco_ios")
	re := ios.basePromptPattern("Router")

	tests := []struct {
		name, out, command, want string
	}{
		{"echo and prompt", "show clock\n10:15:02 UTC\nRouter#", "show clock", "10:15:02 UTC"},
		{"no output", "show nothing\nRouter#", "show nothing", ""},
		{"multi line", "show ver\nline 1\n  line 2\nRouter#", "show ver", "line 1\n  line 2"},
		{"no echo", "10:15:02 UTC\nRouter#", "show clock", "10:15:02 UTC"},
		{"empty command", "line 1\nRouter#", "", "line 1"},
		{"blank command", "line 1\nline 2\nRouter#", "  ", "line 1\nline 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripEchoAndPrompt(tt.out, tt.command, re))
		})
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Router#", clean([]byte("\x1b[?2004hRouter#\r")))
	assert.Equal(t, "a\nb", clean([]byte("\x1b[1;32ma\r\nb\x1b[0m")))
}

func TestDescriptorAddress(t *testing.T) {
	assert.Equal(t, "192.168.1.1:22", Descriptor{Host: "192.168.1.1"}.address())
	assert.Equal(t, "10.8.62.221:2222", Descriptor{Host: "10.8.62.221:2222"}.address())
	assert.Equal(t, "[fe80::1]:22", Descriptor{Host: "fe80::1"}.address())
}
