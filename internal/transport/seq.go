package transport

// 序號是 16 位元模數運算，所有比較都透過這兩個函數，不直接相減比大小。

// seqDiff a-b 的有號距離，跨越 65535→0 仍然正確
func seqDiff(a, b uint16) int {
	return int(int16(a - b))
}

// seqOffset seq 相對 start 的非負偏移
func seqOffset(seq, start uint16) int {
	return int(seq - start)
}

// inWindow seq ∈ [start, start+size) (mod 2^16)
func inWindow(seq, start uint16, size int) bool {
	return seqOffset(seq, start) < size
}
