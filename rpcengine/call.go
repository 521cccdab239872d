package rpcengine

import (
	"errors"
	"os"

	"github.com/srg/scriptproxy/wire"
)

// Timeouts bundles the per-stage deadlines (in milliseconds) that govern one
// Call. EvalMs is the default wait for a reply when the caller does not
// override it per-call.
type Timeouts struct {
	SendMs int
	RecvMs int
	EvalMs int
}

// Call performs steps 4-7 of the handle evaluate sequence (spec.md §4.C):
// write the already-encoded request frame to in, wait up to evalTimeoutMs
// (falling back to t.EvalMs when <= 0) for a reply to start arriving, read
// the response frame within t.RecvMs of it starting, and decode it. Each
// failure mode is classified into the matching *Error so the caller knows
// whether to close the worker.
func Call(in, out *os.File, requestFrame []byte, evalTimeoutMs int, t Timeouts) (wire.Response, *Error) {
	sendDeadline := wire.DeadlineFromMillis(t.SendMs)
	if err := wire.WriteFrame(in, requestFrame, sendDeadline); err != nil {
		return wire.Response{}, newError(CodeSendFail, "failed to send request to worker", err)
	}

	evalMs := evalTimeoutMs
	if evalMs <= 0 {
		evalMs = t.EvalMs
	}
	evalDeadline := wire.DeadlineFromMillis(evalMs)
	if err := wire.WaitReadable(out, evalDeadline); err != nil {
		if errors.Is(err, wire.ErrTimeout) {
			return wire.Response{}, newError(CodeTimeout, "evaluation timed out", err)
		}
		return wire.Response{}, newError(CodeRecvFail, "worker pipe closed while waiting for reply", err)
	}

	recvDeadline := wire.DeadlineFromMillis(t.RecvMs)
	body, err := wire.ReadFrame(out, recvDeadline)
	if err != nil {
		if errors.Is(err, wire.ErrTimeout) {
			return wire.Response{}, newError(CodeRecvFail, "timed out reading response", err)
		}
		return wire.Response{}, newError(CodeRecvFail, "failed to read response from worker", err)
	}

	resp, err := wire.DecodeResponse(body)
	if err != nil {
		return wire.Response{}, newError(CodeInvalid, "malformed response frame", err)
	}

	return resp, nil
}

// Outcome is the caller-facing mapping of a successful Call: on success,
// Result holds the script's result string. On a worker-reported failure
// (non-zero Code), ErrorCode/ErrorInfo carry the worker's error and Result
// carries its human-readable message, per spec.md §4.F.
type Outcome struct {
	OK        bool
	Result    string
	ErrorCode string
	ErrorInfo string
}

// MapResponse turns a decoded wire.Response into an Outcome. Code 0 is
// success; any other code is a worker-reported failure, not an RPC-level
// one.
func MapResponse(resp wire.Response) Outcome {
	if resp.Code == 0 {
		return Outcome{OK: true, Result: resp.ResultString}
	}
	return Outcome{
		OK:        false,
		Result:    resp.ResultString,
		ErrorCode: resp.CodeString,
		ErrorInfo: resp.InfoString,
	}
}
