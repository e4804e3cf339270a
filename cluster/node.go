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
	"encoding/json"
	"net"
	"strconv"
)

// NodeInfo is the metadata a node publishes into the membership map. It is
// written once at join and removed at leave; only the owning node writes it.
type NodeInfo struct {
	Host string            `json:"host"`
	Port int               `json:"port"`
	Meta map[string]string `json:"meta,omitempty"`
}

// Address returns the host:port pair of the node.
func (n NodeInfo) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

func encodeNodeInfo(info NodeInfo) ([]byte, error) {
	return json.Marshal(info)
}

func decodeNodeInfo(encoded []byte) (NodeInfo, error) {
	info := NodeInfo{}
	err := json.Unmarshal(encoded, &info)
	return info, err
}
