package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/pkg/version"
)

func TestVersionCmd_Formats(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{
			name: "text",
			args: nil,
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "amanrag")
				assert.Contains(t, out, version.Version)
				assert.Contains(t, out, "commit")
			},
		},
		{
			name: "short",
			args: []string{"--output", "short"},
			check: func(t *testing.T, out string) {
				assert.Equal(t, version.Version, strings.TrimSpace(out))
			},
		},
		{
			name: "json",
			args: []string{"-O", "json"},
			check: func(t *testing.T, out string) {
				var info map[string]string
				require.NoError(t, json.Unmarshal([]byte(out), &info))
				assert.Equal(t, version.Version, info["version"])
				for _, key := range []string{"commit", "date", "go_version", "os", "arch"} {
					assert.Contains(t, info, key)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newVersionCmd()
			buf := &bytes.Buffer{}
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			tt.check(t, buf.String())
		})
	}
}

func TestVersionCmd_UnknownFormat(t *testing.T) {
	cmd := newVersionCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--output", "xml"})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestVersionCmd_AddedToRoot(t *testing.T) {
	// Given: the root command
	rootCmd := NewRootCmd()

	// When: looking for the version subcommand
	versionCmd, _, err := rootCmd.Find([]string{"version"})

	// Then: it is registered
	require.NoError(t, err)
	assert.Equal(t, "version", versionCmd.Name())
}
