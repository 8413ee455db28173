// Copyright 2021 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Copyright (c) 2017 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// 说明：本文件中的部分代码基于 go.uber.org/zap 中的实现，遵循 MIT 许可。
//
// https://github.com/uber-go/zap/blob/0c427222737cbbbdc53ebdf852c511f7aca0818b/zaptest/logger.go

package log

import (
	"bytes"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestingT 为 UseTestLogger 所需的测试句柄。
type TestingT interface {
	zaptest.TestingT
	Cleanup(func())
}

// testingWriter 把日志转写到 t.Logf。
// detached 置位后写入被丢弃，测试结束后仍在运行的协程不会再触碰 t。
type testingWriter struct {
	t          zaptest.TestingT
	markFailed bool
	detached   *atomic.Bool
}

func newTestingWriter(t zaptest.TestingT) testingWriter {
	return testingWriter{t: t, detached: atomic.NewBool(false)}
}

// WithMarkFailed 返回设置了 markFailed 的副本，副本与原 writer 共享 detached 状态。
func (w testingWriter) WithMarkFailed(v bool) testingWriter {
	w.markFailed = v
	return w
}

func (w testingWriter) detach() {
	w.detached.Store(true)
}

func (w testingWriter) Write(p []byte) (int, error) {
	n := len(p)
	if w.detached.Load() {
		return n, nil
	}
	// t.Logf 自带换行。
	w.t.Logf("%s", bytes.TrimRight(p, "\n"))
	if w.markFailed {
		w.t.Fail()
	}
	return n, nil
}

func (w testingWriter) Sync() error {
	return nil
}

// UseTestLogger 将全局 Logger 替换为输出到 t 的测试 Logger，测试结束时恢复原值。
func UseTestLogger(t TestingT, cfg *Config, opts ...zap.Option) *zap.Logger {
	writer := newTestingWriter(t)
	lg, props, err := initTestLogger(writer, cfg, opts...)
	if err != nil {
		t.Errorf("init test logger: %v", err)
		t.FailNow()
	}

	prevL, prevP := L(), _globalP.Load().(*ZapProperties)
	ReplaceGlobals(lg, props)
	replaceLeveledLoggers(lg)
	t.Cleanup(func() {
		writer.detach()
		ReplaceGlobals(prevL, prevP)
		replaceLeveledLoggers(prevL)
	})
	return lg
}
