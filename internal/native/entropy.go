package native

import "math"

// CalculateEntropy 计算字节序列的 Shannon 熵（bits/byte）。
// 加壳或加密的二进制熵值接近 8，正常代码段通常在 6 左右
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	length := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
