package utils

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
)

// StreamJSONLWriter 流式 JSONL 写入器。
// 扫描结果中的发现逐条追加写入，避免把整个发现列表攒在内存里再序列化
type StreamJSONLWriter struct {
	file   *os.File
	writer *bufio.Writer
}

// NewStreamJSONLWriter 创建流式 JSONL 写入器（追加模式）
func NewStreamJSONLWriter(filePath string) (*StreamJSONLWriter, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &StreamJSONLWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
	}, nil
}

// WriteLine 序列化一条记录并写入一行
func (w *StreamJSONLWriter) WriteLine(data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := w.writer.Write(jsonData); err != nil {
		return err
	}
	_, err = w.writer.WriteString("\n")
	return err
}

// Close 刷新缓冲并关闭文件
func (w *StreamJSONLWriter) Close() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// StreamJSONLReader 流式 JSONL 读取器，逐行反序列化到调用方给定的类型
type StreamJSONLReader struct {
	file    *os.File
	scanner *bufio.Scanner
	lineNum int
}

// NewStreamJSONLReader 创建流式 JSONL 读取器。
// 单条发现的 evidence 片段可能很长，缓冲上限放宽到 10MB
func NewStreamJSONLReader(filePath string) (*StreamJSONLReader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)

	return &StreamJSONLReader{
		file:    file,
		scanner: scanner,
	}, nil
}

// ReadNext 读取下一行并反序列化到 v，文件尾返回 io.EOF
func (r *StreamJSONLReader) ReadNext(v interface{}) error {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return err
		}
		return io.EOF
	}

	r.lineNum++
	return json.Unmarshal(r.scanner.Bytes(), v)
}

// LineNumber 当前已读取的行号
func (r *StreamJSONLReader) LineNumber() int {
	return r.lineNum
}

// Close 关闭读取器
func (r *StreamJSONLReader) Close() error {
	return r.file.Close()
}
