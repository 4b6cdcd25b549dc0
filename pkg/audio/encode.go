// Package audio implements the capture-side audio bridge: conversion of raw
// floating-point samples into the int16 PCM frames the transcription channel
// expects, and a gated forwarder that ships those frames to an STT sink.
package audio

import (
	"encoding/binary"
	"math"
)

// EncodePCM16 converts mono float samples in [-1, 1] to little-endian int16
// PCM bytes. Out-of-range samples are clamped to the boundary before scaling.
// Negative samples scale by the negative full-scale magnitude (32768) and
// non-negative samples by the positive one (32767), so neither end of the
// range can overflow the int16 representation.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodeFloat32LE interprets data as little-endian IEEE 754 float32 samples.
// A trailing partial sample (len(data) not divisible by 4) is discarded.
func DecodeFloat32LE(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := range n {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
