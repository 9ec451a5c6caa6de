package convert

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/brensch/sigmazero/rules"
)

const (
	Width         = 9
	Height        = 9
	Channels      = rules.FeatureChannels
	BytesPerFloat = 4
	FloatSize     = Channels * Width * Height
	BufferSize    = FloatSize * BytesPerFloat
)

// StateFormat names the byte layout produced by StateToBytes. It is written
// next to every stored state so readers can reject layouts they do not know.
const StateFormat = "uttt_chw3_f32le_v1"

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, BufferSize)
		return &b
	},
}

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FloatSize)
		return &b
	},
}

// GetBuffer returns a buffer from the pool.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(b *[]byte) {
	bufferPool.Put(b)
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// StateToFloat32 encodes the state into a pooled float32 slice suitable for
// ONNX input, shape [Channels, Height, Width].
// Caller must return it to the pool using PutFloatBuffer.
func StateToFloat32(state *rules.State) *[]float32 {
	dataPtr := GetFloatBuffer()
	state.EncodeFeatures(*dataPtr)
	return dataPtr
}

// StateToBytes encodes the state as little endian float32 planes, same
// layout as StateToFloat32.
// Caller must return it to the pool using PutBuffer.
func StateToBytes(state *rules.State) *[]byte {
	fPtr := StateToFloat32(state)
	defer PutFloatBuffer(fPtr)

	dataPtr := GetBuffer()
	data := *dataPtr
	for i, v := range *fPtr {
		binary.LittleEndian.PutUint32(data[i*BytesPerFloat:], math.Float32bits(v))
	}
	return dataPtr
}

// BytesToFloat32 decodes a StateToBytes payload.
func BytesToFloat32(data []byte) ([]float32, error) {
	if len(data) != BufferSize {
		return nil, fmt.Errorf("state bytes: got %d, want %d", len(data), BufferSize)
	}
	out := make([]float32, FloatSize)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*BytesPerFloat:]))
	}
	return out, nil
}
