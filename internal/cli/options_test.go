// internal/cli/options_test.go
package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mersect/internal/config"
)

func parse(t *testing.T, args ...string) (*pflag.FlagSet, Options) {
	t.Helper()
	var o Options
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Register(fs, &o)
	require.NoError(t, fs.Parse(args))
	o.Files = fs.Args()
	return fs, o
}

func TestValidate_Defaults(t *testing.T) {
	_, o := parse(t, "-m", "21", "-s", "10M", "-t", "4", "a.fa", "b.fa")
	s, err := o.Validate()
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000), s.Slots)
	assert.Equal(t, 12, s.Lookahead)
	assert.Equal(t, "uniq_", s.Prefix)
	assert.Equal(t, DefaultIntersection, s.Intersection)
	assert.Equal(t, []string{"a.fa", "b.fa"}, s.Files)
}

func TestValidate_AllCPUs(t *testing.T) {
	_, o := parse(t, "-m", "5", "-s", "64", "a.fa")
	s, err := o.Validate()
	require.NoError(t, err)
	assert.Positive(t, s.Threads)
}

func TestValidate_Errors(t *testing.T) {
	long := strings.Repeat("x", MaxPathLen+1)
	cases := map[string][]string{
		"k zero":         {"-s", "64", "a.fa"},
		"k too large":    {"-m", "32", "-s", "64", "a.fa"},
		"no size":        {"-m", "5", "a.fa"},
		"size zero":      {"-m", "5", "-s", "0", "a.fa"},
		"bad size":       {"-m", "5", "-s", "lots", "a.fa"},
		"no inputs":      {"-m", "5", "-s", "64"},
		"stdin":          {"-m", "5", "-s", "64", "-"},
		"long output":    {"-m", "5", "-s", "64", "-o", long, "a.fa"},
		"long prefix":    {"-m", "5", "-s", "64", "-p", long, "a.fa"},
		"negative t":     {"-m", "5", "-s", "64", "-t", "-1", "a.fa"},
		"zero buffer":    {"-m", "5", "-s", "64", "--buffer-size", "0", "a.fa"},
		"overwrite self": {"-m", "5", "-s", "64", "-p", "./", "a.fa"},
		"same base name": {"-m", "5", "-s", "64", "x/a.fa", "y/a.fa"},
		"output is dump": {"-m", "5", "-s", "64", "-o", "out", "--dump-matrix", "./out", "a.fa"},
		"output unique":  {"-m", "5", "-s", "64", "-o", "uniq_a.fa", "a.fa"},
		"metrics unique": {"-m", "5", "-s", "64", "-p", "u_", "--metrics-file", "u_a.fa", "a.fa"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, o := parse(t, args...)
			_, err := o.Validate()
			require.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestApplyFile_FlagsWin(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(p, []byte("mer_len: 9\nsize: 1k\nthreads: 3\ncanonical: true\n"), 0o644))
	f, err := config.Load(p)
	require.NoError(t, err)

	fs, o := parse(t, "-t", "2", "x.fa")
	o.ApplyFile(fs, f)
	assert.Equal(t, 9, o.K)
	assert.Equal(t, "1k", o.Size)
	assert.Equal(t, 2, o.Threads)
	assert.True(t, o.Canonical)

	s, err := o.Validate()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), s.Slots)
}

func TestParseSize(t *testing.T) {
	for in, want := range map[string]uint64{
		"1": 1, "4096": 4096, "64k": 64_000, "2M": 2_000_000, "3g": 3_000_000_000,
	} {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "k", "-1", "1.5M", "99999999999G"} {
		_, err := ParseSize(in)
		assert.Error(t, err, in)
	}
}
