package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxvaer/apihunter/internal/config"
)

func TestParseHeaders(t *testing.T) {
	got, err := parseHeaders([]string{"Authorization: Bearer a:b", "X-Empty:"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer a:b",
		"X-Empty":       "",
	}, got)

	got, err = parseHeaders(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, bad := range []string{"NoColon", ": value"} {
		_, err := parseHeaders([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestApplyLiteKeepsExplicitFlags(t *testing.T) {
	o := config.Defaults()
	o.Concurrency = 20
	applyLite(&o, func(name string) bool { return name == "concurrency" })

	assert.Equal(t, 20, o.Concurrency)
	assert.Equal(t, 2, o.PerHost)
	assert.Equal(t, 1, o.Retries)
	assert.Equal(t, 3*time.Second, o.Timeout)
}

func TestFormatFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntP("concurrency", "c", 50, "Maximum probes in flight")
	fs.Bool("lite", false, "Low-impact preset")

	line := formatFlag(fs.Lookup("concurrency"))
	assert.True(t, strings.HasPrefix(line, "   -c, --concurrency int"))
	assert.True(t, strings.HasSuffix(line, "Maximum probes in flight (default 50)"))

	line = formatFlag(fs.Lookup("lite"))
	assert.Equal(t, "       --lite"+strings.Repeat(" ", 36-len("    --lite"))+"Low-impact preset", line)
}

func TestHelpGroupsNameRealFlags(t *testing.T) {
	for _, g := range helpGroups {
		for _, name := range g.flags {
			assert.NotNil(t, rootCmd.Flags().Lookup(name), "%s/%s", g.title, name)
		}
	}
}

func TestHelpBanner(t *testing.T) {
	assert.Contains(t, helpBanner("1.2.0"), "v1.2.0")
	assert.Contains(t, helpBanner("dev"), "dev")
}
