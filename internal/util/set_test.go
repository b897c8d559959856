/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_Equal(t *testing.T) {
	a := NewSet("sha256:aa", "sha512:bb")
	b := NewSet("sha512:bb", "sha256:aa")
	assert.True(t, a.Equal(b))
	assert.Equal(t, 2, a.Len())

	b.Add("sha256:cc")
	assert.False(t, a.Equal(b))
	assert.False(t, b.Equal(a))

	assert.True(t, NewSet[int]().Equal(NewSet[int]()))
	assert.False(t, NewSet(1).Equal(NewSet(2)))
}
