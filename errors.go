// The MIT License
//
// Copyright (c) 2025-2026 by the author(s)
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
//
// Description:
//
// Error taxonomy shared by all DMA engine components.

package goohci1394

import "github.com/pkg/errors"

// Sentinel errors. Callers classify failures with errors.Is; the wrapped
// messages carry the context (which context, which register, which argument).
var (
	// ErrBadArgument reports an argument outside its contract (nil pool,
	// misaligned address, out-of-range Z or context index).
	ErrBadArgument = errors.New("bad argument")

	// ErrNotReady reports an operation on a component that has not been
	// initialized or whose prerequisite state is missing.
	ErrNotReady = errors.New("not ready")

	// ErrBusy reports a context that is still active where idle was required.
	ErrBusy = errors.New("busy")

	// ErrNoSpace reports descriptor pool or in-flight window exhaustion.
	ErrNoSpace = errors.New("no space")

	// ErrTimeout reports a bounded hardware poll that expired.
	ErrTimeout = errors.New("timeout")

	// ErrDead reports a context whose dead bit is set; it must be recovered
	// before further use.
	ErrDead = errors.New("context dead")

	// ErrUnsupported reports a capability this engine deliberately does not
	// implement, such as appending to an in-flight transmit program.
	ErrUnsupported = errors.New("unsupported")
)
