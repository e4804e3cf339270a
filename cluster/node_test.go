/*
 * MIT License
 *
 * Copyright (c) 2024-2026 Herd Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeInfoAddress(t *testing.T) {
	t.Run("With an IPv4 host", func(t *testing.T) {
		info := NodeInfo{Host: "10.0.0.1", Port: 7000}
		assert.Equal(t, "10.0.0.1:7000", info.Address())
	})
	t.Run("With an IPv6 host", func(t *testing.T) {
		info := NodeInfo{Host: "::1", Port: 7000}
		assert.Equal(t, "[::1]:7000", info.Address())
	})
}

func TestNodeInfoCodec(t *testing.T) {
	t.Run("With a round trip", func(t *testing.T) {
		info := NodeInfo{
			Host: "10.0.0.1",
			Port: 7000,
			Meta: map[string]string{"zone": "eu-west-1"},
		}

		encoded, err := encodeNodeInfo(info)
		require.NoError(t, err)

		decoded, err := decodeNodeInfo(encoded)
		require.NoError(t, err)
		assert.Equal(t, info, decoded)
	})
	t.Run("With empty metadata elided", func(t *testing.T) {
		encoded, err := encodeNodeInfo(NodeInfo{Host: "10.0.0.1", Port: 7000})
		require.NoError(t, err)
		assert.NotContains(t, string(encoded), "meta")
	})
	t.Run("With an unreadable payload", func(t *testing.T) {
		_, err := decodeNodeInfo([]byte("not-a-membership-entry"))
		assert.Error(t, err)
	})
}
