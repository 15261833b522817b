// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsls2forge/condabuild/pkg/conda/cache"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Close())
	}()

	key := "https://conda.anaconda.org/nsls2forge/linux-64/repodata.json"

	_, ok, err := c.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(key, []byte(`{"packages":{}}`), time.Hour))
	val, ok, err := c.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"packages":{}}`, string(val))

	// Overwrites replace.
	require.NoError(t, c.Put(key, []byte(`{}`), time.Hour))
	val, ok, err = c.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{}`, string(val))
}

func TestPersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := cache.Open(dir)
	require.NoError(t, err)
	require.NoError(t, c.Put("key", []byte("value"), 0))
	require.NoError(t, c.Close())

	c, err = cache.Open(dir)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Close())
	}()
	val, ok, err := c.Get("key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", string(val))
}
