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

package store

import "fmt"

// EventKind discriminates map change events.
type EventKind int

const (
	// EntryPut signals a key was inserted or its value replaced
	EntryPut EventKind = iota
	// EntryRemoved signals a key was deleted or expired
	EntryRemoved
)

func (x EventKind) String() string {
	switch x {
	case EntryPut:
		return "EntryPut"
	case EntryRemoved:
		return "EntryRemoved"
	default:
		return fmt.Sprintf("%d", int(x))
	}
}

// Event defines a single map change observed by a Feed
type Event struct {
	// Kind specifies the change kind
	Kind EventKind
	// Key specifies the changed key
	Key string
	// Value carries the new value for EntryPut events; nil for EntryRemoved
	Value []byte
}
