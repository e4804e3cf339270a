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

package olric

import (
	"bytes"
	"io"
	"regexp"

	"github.com/herd-io/herd/log"
)

// logWriter routes the olric server log lines to the store logger, keeping
// their severity.
type logWriter struct {
	logger log.Logger
	info   *regexp.Regexp
	debug  *regexp.Regexp
	warn   *regexp.Regexp
	error  *regexp.Regexp
}

// enforce compilation error
var _ io.Writer = (*logWriter)(nil)

func newLogWriter(logger log.Logger) *logWriter {
	return &logWriter{
		logger: logger,
		info:   regexp.MustCompile(`\[INFO\] (.+)`),
		debug:  regexp.MustCompile(`\[DEBUG\] (.+)`),
		warn:   regexp.MustCompile(`\[WARN\] (.+)`),
		error:  regexp.MustCompile(`\[ERROR\] (.+)`),
	}
}

// Write maps one olric log line onto the matching logger level. Lines
// without a severity tag pass through at debug.
func (l *logWriter) Write(message []byte) (int, error) {
	text := string(bytes.TrimSpace(message))

	if matches := l.error.FindStringSubmatch(text); len(matches) > 1 {
		l.logger.Error(matches[1])
		return len(message), nil
	}
	if matches := l.warn.FindStringSubmatch(text); len(matches) > 1 {
		l.logger.Warn(matches[1])
		return len(message), nil
	}
	if matches := l.info.FindStringSubmatch(text); len(matches) > 1 {
		l.logger.Info(matches[1])
		return len(message), nil
	}
	if matches := l.debug.FindStringSubmatch(text); len(matches) > 1 {
		l.logger.Debug(matches[1])
		return len(message), nil
	}
	l.logger.Debug(text)
	return len(message), nil
}
