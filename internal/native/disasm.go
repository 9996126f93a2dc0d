package native

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
)

// maxDisasmInsts 单个代码段反汇编的指令数上限，防止超大库拖垮分析
const maxDisasmInsts = 2_000_000

// DisassembleText 提取 ELF 的 .text 段并反汇编为文本行。
// 仅支持 ARM64，每行形如 "0x1a2b: SVC #0x0"。
// 非 ELF、非 ARM64 或缺少 .text 段时返回空切片
func DisassembleText(path string) []string {
	f, err := elf.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	if f.Machine != elf.EM_AARCH64 {
		return nil
	}

	text := f.Section(".text")
	if text == nil {
		return nil
	}
	data, err := text.Data()
	if err != nil {
		return nil
	}

	n := len(data) / 4
	if n > maxDisasmInsts {
		n = maxDisasmInsts
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		off := i * 4
		addr := text.Addr + uint64(off)

		inst, err := arm64asm.Decode(data[off : off+4])
		if err != nil {
			// 数据或无法解码的编码，保留为占位行维持地址连续性
			raw := binary.LittleEndian.Uint32(data[off : off+4])
			lines = append(lines, fmt.Sprintf("0x%x: .word 0x%08x", addr, raw))
			continue
		}
		lines = append(lines, fmt.Sprintf("0x%x: %s", addr, inst.String()))
	}
	return lines
}
