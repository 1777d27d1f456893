//go:build js && wasm
// +build js,wasm

package main

import (
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/earpeace/pkg/earpeace/audio"
	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorProcessing
	ErrorNoLandmarks
)

// generateLandmarks fingerprints raw samples in the browser so only hashes
// are sent to /api/match/landmarks. The caller is expected to resample to
// 16 kHz first; other rates are fingerprinted as-is and rejected by the server.
// Returns: {error: number, data: [{hash, frame}] | string, sampleRate: number}
func generateLandmarks(this js.Value, args []js.Value) any {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: audioArray, sampleRate, channels")
	}

	audioDataJS := args[0]
	sampleRateJS := args[1]
	channelsJS := args[2]

	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array, Float32Array or Float64Array")
	}
	if sampleRateJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate must be a number")
	}
	if channelsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "channels must be a number")
	}

	sampleRate := sampleRateJS.Int()
	channels := channelsJS.Int()

	length := audioDataJS.Length()
	if length == 0 {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray is empty")
	}

	interleaved := make([]float64, length)
	for i := 0; i < length; i++ {
		val := audioDataJS.Index(i)
		if val.Type() != js.TypeNumber {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("audioArray element %d is not a number", i))
		}
		interleaved[i] = val.Float()
	}

	sig, err := audio.NewSignal(interleaved, channels, sampleRate)
	if err != nil {
		return makeErrorResponse(ErrorInvalidArgs, err.Error())
	}

	landmarks, err := fingerprint.Fingerprint(sig.Samples, sig.SampleRate, fingerprint.DefaultParams())
	if err != nil {
		return makeErrorResponse(ErrorProcessing, fmt.Sprintf("Failed to fingerprint audio: %v", err))
	}
	if len(landmarks) == 0 {
		return makeErrorResponse(ErrorNoLandmarks, "No landmarks found (audio may be silent or shorter than one window)")
	}

	arr := js.Global().Get("Array").New(len(landmarks))
	for i, lm := range landmarks {
		obj := js.Global().Get("Object").New()
		obj.Set("hash", uint32(lm.Hash))
		obj.Set("frame", lm.Frame)
		arr.SetIndex(i, obj)
	}

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", arr)
	result.Set("sampleRate", sig.SampleRate)
	return result
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")
	logf := func(method, msg string) {
		if !console.IsUndefined() {
			console.Call(method, msg)
		}
	}

	js.Global().Set("generateLandmarks", js.FuncOf(generateLandmarks))
	logf("log", "generateLandmarks registered")

	window := js.Global().Get("window")
	if !window.IsUndefined() {
		event := js.Global().Get("CustomEvent").New("wasmReady", js.Global().Get("Object").New())
		window.Call("dispatchEvent", event)
	} else {
		logf("error", "window object is undefined, wasmReady not dispatched")
	}

	logf("log", "earpeace WASM module ready")
	select {}
}
