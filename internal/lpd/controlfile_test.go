package lpd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildControlFile(t *testing.T) {
	got := buildControlFile("wks12", "ada", "001", "report.ps", false)
	want := "Hwks12\nPada\npdfA001wks12\nUdfA001wks12\nNreport.ps\n"
	assert.Equal(t, want, string(got))
}

func TestBuildControlFileRaw(t *testing.T) {
	got := buildControlFile("wks12", "ada", "007", "dump.bin", true)
	want := "Hwks12\nPada\nodfA007wks12\nUdfA007wks12\nNdump.bin\n"
	assert.Equal(t, want, string(got))
}
