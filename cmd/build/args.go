package main

import (
	"github.com/colrdavidson/spall-web/config"
)

// Args is the parsed command line.
type Args struct {
	Profile config.Profile
	Serve   bool

	// Ignored holds arguments that matched nothing.
	Ignored []string
}

// ParseArgs reads the positional command line: an optional profile as the
// first argument and "run" anywhere. Anything else is ignored.
func ParseArgs(argv []string) Args {
	args := Args{Profile: config.Debug}
	for i, a := range argv {
		if a == "run" {
			args.Serve = true
			continue
		}
		if p, ok := config.ParseProfile(a); ok && i == 0 {
			args.Profile = p
			continue
		}
		args.Ignored = append(args.Ignored, a)
	}
	return args
}
