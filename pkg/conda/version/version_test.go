// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package version_test

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsls2forge/condabuild/pkg/conda/version"
	"github.com/nsls2forge/condabuild/pkg/testutil"
)

func mustParse(t *testing.T, str string) version.Version {
	t.Helper()
	ver, err := version.Parse(str)
	require.NoError(t, err)
	require.NotNil(t, ver)
	return *ver
}

func TestSort(t *testing.T) {
	t.Parallel()
	// Each inner slice is a set of equal spellings; the outer slice is in strictly
	// ascending order.  This is the worked example from conda's documentation, plus the
	// git-describe shapes we care about.
	testcases := map[string][][]string{
		"conda-doc": {
			{"0.4", "0.4.0"},
			{"0.4.1.rc", "0.4.1.RC"},
			{"0.4.1"},
			{"0.5a1"},
			{"0.5b3"},
			{"0.5C1"},
			{"0.5"},
			{"0.9.6"},
			{"0.960923"},
			{"1.0"},
			{"1.1dev1"},
			{"1.1_"},
			{"1.1a1"},
			{"1.1.0dev1", "1.1.dev1"},
			{"1.1.a1"},
			{"1.1.0rc1"},
			{"1.1.0", "1.1"},
			{"1.1.0post1", "1.1.post1"},
			{"1.1post1"},
			{"1996.07.12"},
			{"1!0.4.1"},
			{"1!3.1.1.6"},
			{"2!0.4.1"},
		},
		"git-describe": {
			{"v0.0.5"},
			{"v0.1.0"},
			{"v0.1.0.post1"},
			{"v0.1.0.post3"},
			{"v0.1.1"},
		},
	}
	for tcName, groups := range testcases {
		groups := groups
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()

			// pairwise comparisons, including the equal spellings
			for i, group := range groups {
				for _, aStr := range group {
					a := mustParse(t, aStr)
					for _, bStr := range group {
						assert.Zerof(t, a.Cmp(mustParse(t, bStr)),
							"%q == %q", aStr, bStr)
					}
					for _, later := range groups[i+1:] {
						for _, bStr := range later {
							b := mustParse(t, bStr)
							assert.Equalf(t, -1, a.Cmp(b), "%q < %q", aStr, bStr)
							assert.Equalf(t, 1, b.Cmp(a), "%q > %q", bStr, aStr)
						}
					}
				}
			}

			// shuffled sort comes back in order
			exp := make([]version.Version, 0, len(groups))
			for _, group := range groups {
				exp = append(exp, mustParse(t, group[0]))
			}
			act := make([]version.Version, len(exp))
			copy(act, exp)
			rand.New(rand.NewSource(time.Now().UnixNano())).Shuffle(len(act), func(i, j int) {
				act[i], act[j] = act[j], act[i]
			})
			sort.SliceStable(act, func(i, j int) bool {
				return act[i].Cmp(act[j]) < 0
			})
			for i := range exp {
				assert.Zerof(t, exp[i].Cmp(act[i]), "position %d: %v != %v", i, exp[i], act[i])
			}
		})
	}
}

func TestStartsWith(t *testing.T) {
	t.Parallel()
	testcases := map[string]struct {
		Ver    string
		Prefix string
		Exp    bool
	}{
		"exact":          {"1.11", "1.11", true},
		"deeper":         {"1.11.3", "1.11", true},
		"string-prefix":  {"1.110", "1.11", true},
		"mismatch":       {"1.12", "1.11", false},
		"shorter":        {"1.1", "1.11", false},
		"epoch-mismatch": {"1!1.11", "1.11", false},
		"alpha":          {"1.11a1", "1.11", true},
		"v-tag":          {"v0.1.0.post3", "v0.1", true},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			ver := mustParse(t, tc.Ver)
			prefix := mustParse(t, tc.Prefix)
			assert.Equal(t, tc.Exp, ver.StartsWith(prefix))
		})
	}
}

// randVersionString draws from an alphabet heavy on digits and periods, so
// that most generated strings actually parse.
func randVersionString(rng *rand.Rand) string {
	const alphabet = "0123456789.0123456789.abcdefghij_!+"
	buf := make([]byte, rng.Intn(12)+1)
	for i := range buf {
		buf[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(buf)
}

func TestEquality(t *testing.T) {
	t.Parallel()

	staticInputs := []string{
		"0.4", "0.4.1.rc", "0.5a1", "1.1dev1", "1.1_", "1.1.0post1",
		"1996.07.12", "1!0.4.1", "v0.1.0.post3", "1.0+local.2",
	}

	statics := make([][]interface{}, len(staticInputs))
	for i := range statics {
		statics[i] = []interface{}{staticInputs[i]}
	}

	testutil.QuickCheck(t,
		// test function
		func(str string) bool {
			ver1, err := version.Parse(str)
			if err != nil {
				// Most generated strings are not versions; rejecting them
				// cleanly is all that is asked.
				return true
			}
			ver2, err := version.Parse(ver1.String())
			if err != nil || ver2 == nil {
				return false
			}
			return ver1.Cmp(*ver2) == 0 && ver2.Cmp(*ver1) == 0
		},
		// dynamic inputs
		testutil.QuickConfig{
			Values: func(args []reflect.Value, rng *rand.Rand) {
				args[0] = reflect.ValueOf(randVersionString(rng))
			},
		},
		// static inputs
		statics...)
}

func TestAntisymmetry(t *testing.T) {
	t.Parallel()

	staticInputs := [][2]string{
		{"1.1", "1.1.0"},
		{"1.1dev1", "1.1a1"},
		{"0.4.1", "1!0.4.1"},
		{"1.1_", "1.1a1"},
		{"1.0+1.0", "1.0+1.0.0"},
	}

	statics := make([][]interface{}, len(staticInputs))
	for i := range statics {
		statics[i] = []interface{}{
			staticInputs[i][0],
			staticInputs[i][1],
		}
	}

	testutil.QuickCheck(t,
		// test function
		func(str1, str2 string) bool {
			ver1, err1 := version.Parse(str1)
			ver2, err2 := version.Parse(str2)
			if err1 != nil || err2 != nil {
				return true
			}
			ret := ver1.Cmp(*ver2) == -ver2.Cmp(*ver1)
			if !ret {
				t.Logf("failing:\n\tver1=%s\n\tver2=%s\n\tver1.Cmp(ver2)=%v\n\tver2.Cmp(ver1)=%v",
					ver1, ver2,
					ver1.Cmp(*ver2), ver2.Cmp(*ver1))
			}
			return ret
		},
		// dynamic inputs
		testutil.QuickConfig{
			Values: func(args []reflect.Value, rng *rand.Rand) {
				args[0] = reflect.ValueOf(randVersionString(rng))
				args[1] = reflect.ValueOf(randVersionString(rng))
			},
		},
		// static inputs
		statics...)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	for _, str := range []string{
		"",
		"   ",
		"1.0 beta",
		"1!2!3",
		"1.0++local",
		"1..0",
		"x!1.0",
	} {
		str := str
		t.Run(str, func(t *testing.T) {
			t.Parallel()
			_, err := version.Parse(str)
			assert.Error(t, err)
		})
	}
}

func TestString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "v0.1.0.post3", mustParse(t, " V0.1.0.POST3 ").String())
	assert.Equal(t, "1.1", mustParse(t, "1.1").String())
}
