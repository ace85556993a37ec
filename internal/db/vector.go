package db

import (
	"encoding/binary"
	"math"
)

// EncodeFloat32 packs a vector as little-endian FLOAT32, the layout HNSW hash fields expect.
func EncodeFloat32(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
