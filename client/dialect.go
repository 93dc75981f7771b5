package client

import (
	"regexp"
	"slices"

	"github.com/samber/lo"
)

// Dialect describes how to drive the CLI of one kind of network operating system.
type Dialect struct {
	Kind string
	// Terminators are the characters a prompt may end with, e.g. ">#".
	Terminators string
	// Setup commands run once after login to disable paging and wrapping.
	Setup []string
	// LineEnding is appended to every command written to the device.
	LineEnding string
	// AnswerPassword makes the prompt reader reply to a "Password:" prompt with
	// the login password, needed when Setup contains "enable".
	AnswerPassword bool
}

var dialects = map[string]Dialect{
	"cisco_ios": {
		Kind:        "cisco_ios",
		Terminators: ">#",
		Setup:       []string{"terminal width 511", "terminal length 0"},
		LineEnding:  "\n",
	},
	"cisco_xe": {
		Kind:        "cisco_xe",
		Terminators: ">#",
		Setup:       []string{"terminal width 511", "terminal length 0"},
		LineEnding:  "\n",
	},
	"cisco_nxos": {
		Kind:        "cisco_nxos",
		Terminators: ">#",
		Setup:       []string{"terminal width 511", "terminal length 0"},
		LineEnding:  "\n",
	},
	"cisco_asa": {
		Kind:        "cisco_asa",
		Terminators: ">#",
		Setup:       []string{"terminal pager 0"},
		LineEnding:  "\n",
	},
	"arista_eos": {
		Kind:        "arista_eos",
		Terminators: ">#",
		Setup:       []string{"terminal width 32767", "terminal length 0"},
		LineEnding:  "\n",
	},
	"juniper_junos": {
		Kind:        "juniper_junos",
		Terminators: ">#%",
		Setup:       []string{"set cli screen-width 511", "set cli screen-length 0"},
		LineEnding:  "\n",
	},
	"tplink_jetstream": {
		Kind:           "tplink_jetstream",
		Terminators:    ">#",
		Setup:          []string{"enable", "config", "no clipaging", "exit"},
		LineEnding:     "\r\n",
		AnswerPassword: true,
	},
}

// LookupDialect returns the dialect registered for kind.
func LookupDialect(kind string) (Dialect, bool) {
	d, ok := dialects[kind]
	return d, ok
}

// Kinds returns the supported device kinds in lexical order.
func Kinds() []string {
	kinds := lo.Keys(dialects)
	slices.Sort(kinds)
	return kinds
}

const promptName = `[\w.\-/:@]+`

// promptPattern matches any prompt of the dialect at the end of the buffer.
// Submatch 1 is the whole prompt, submatch 2 the base (hostname) part.
func (d Dialect) promptPattern() *regexp.Regexp {
	return regexp.MustCompile(`(?:^|\n)((` + promptName + `)(?:\([^)\n]*\))?[` + regexp.QuoteMeta(d.Terminators) + `])\s*$`)
}

// basePromptPattern matches only prompts that start with base, in any mode.
func (d Dialect) basePromptPattern(base string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|\n)(` + regexp.QuoteMeta(base) + `(?:\([^)\n]*\))?[` + regexp.QuoteMeta(d.Terminators) + `])\s*$`)
}
