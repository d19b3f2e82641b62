package main

import (
	"reflect"
	"testing"

	"github.com/colrdavidson/spall-web/config"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		want Args
	}{
		{"no arguments", nil, Args{Profile: config.Debug}},
		{"release", []string{"release"}, Args{Profile: config.Release}},
		{"extrarelease and run", []string{"extrarelease", "run"}, Args{Profile: config.ExtraRelease, Serve: true}},
		{"run only", []string{"run"}, Args{Profile: config.Debug, Serve: true}},
		{"profile after run", []string{"run", "release"}, Args{Profile: config.Debug, Serve: true, Ignored: []string{"release"}}},
		{"unknown", []string{"debug", "--verbose", "fast"}, Args{Profile: config.Debug, Ignored: []string{"--verbose", "fast"}}},
		{"wrong case", []string{"Release"}, Args{Profile: config.Debug, Ignored: []string{"Release"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseArgs(tt.argv); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseArgs(%v) = %+v, want %+v", tt.argv, got, tt.want)
			}
		})
	}
}
