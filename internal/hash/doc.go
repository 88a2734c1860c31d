// Package hash provides the CRC32-Castagnoli checksums that guard persisted
// volume data against corruption.
//
// One-shot:
//
//	sum := hash.CRC32C(data)
//
// Streaming, for payloads written or read piecewise:
//
//	h := hash.NewCRC32C()
//	w := io.MultiWriter(dst, h)
//	...
//	sum := h.Sum32()
package hash
