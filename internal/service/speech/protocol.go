package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Volcengine openspeech v3 binary frame:
//
//	byte 0  version(4) | header size in 4-byte words(4)
//	byte 1  message type(4) | flags(4)
//	byte 2  serialization(4) | compression(4)
//	byte 3  reserved
//
// followed by optional sequence, optional event metadata, payload size and payload.
const protocolVersion = 0b0001

type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

type MessageFlags uint8

const (
	NoSequence       MessageFlags = 0b0000
	PositiveSequence MessageFlags = 0b0001
	LastNoSequence   MessageFlags = 0b0010
	NegativeSequence MessageFlags = 0b0011
	WithEvent        MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

// EventType 服务端事件，只有带 WithEvent 标志的帧才携带。
type EventType int32

const (
	EventStartConnection    EventType = 1
	EventFinishConnection   EventType = 2
	EventConnectionStarted  EventType = 50
	EventConnectionFailed   EventType = 51
	EventConnectionFinished EventType = 52
	EventSessionStarted     EventType = 150
	EventSessionFinished    EventType = 152
	EventSessionFailed      EventType = 153
)

type Serialization uint8

const (
	RawSerialization  Serialization = 0b0000
	JSONSerialization Serialization = 0b0001
)

type Compression uint8

const (
	NoCompression   Compression = 0b0000
	GzipCompression Compression = 0b0001
)

// Header 固定 4 字节帧头。
type Header struct {
	Version       uint8
	Size          uint8
	Type          MessageType
	Flags         MessageFlags
	Serialization Serialization
	Compression   Compression
}

// Frame 是一帧完整消息。
type Frame struct {
	Header    Header
	Sequence  int32
	Event     EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func newHeader(t MessageType, flags MessageFlags, ser Serialization, comp Compression) Header {
	return Header{Version: protocolVersion, Size: 1, Type: t, Flags: flags, Serialization: ser, Compression: comp}
}

// Last reports whether the frame closes the stream.
func (f *Frame) Last() bool {
	switch f.Header.Flags & sequenceMask {
	case LastNoSequence, NegativeSequence:
		return true
	}
	return false
}

func (f *Frame) hasSequence() bool {
	switch f.Header.Flags & sequenceMask {
	case PositiveSequence, NegativeSequence:
		return true
	}
	return false
}

func (f *Frame) hasEvent() bool {
	return f.Header.Flags&WithEvent == WithEvent
}

// Encode 序列化一帧。
func (f *Frame) Encode() []byte {
	h := f.Header
	out := make([]byte, 0, 16+len(f.Payload))
	out = append(out,
		h.Version<<4|h.Size,
		uint8(h.Type)<<4|uint8(h.Flags),
		uint8(h.Serialization)<<4|uint8(h.Compression),
		0,
	)

	if f.hasSequence() {
		out = binary.BigEndian.AppendUint32(out, uint32(f.Sequence))
	}
	if f.hasEvent() {
		out = binary.BigEndian.AppendUint32(out, uint32(f.Event))
		if carriesSessionID(f.Event) {
			out = appendSized(out, f.SessionID)
		}
		if carriesConnectID(f.Event) {
			out = appendSized(out, f.ConnectID)
		}
	}
	if h.Type == ErrorMessage {
		out = binary.BigEndian.AppendUint32(out, f.ErrorCode)
	}
	out = binary.BigEndian.AppendUint32(out, uint32(len(f.Payload)))
	return append(out, f.Payload...)
}

// DecodeFrame 解析一帧服务端消息。
func DecodeFrame(data []byte) (*Frame, error) {
	r := bytes.NewReader(data)

	var raw [4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := Header{
		Version:       raw[0] >> 4,
		Size:          raw[0] & 0x0F,
		Type:          MessageType(raw[1] >> 4),
		Flags:         MessageFlags(raw[1] & 0x0F),
		Serialization: Serialization(raw[2] >> 4),
		Compression:   Compression(raw[2] & 0x0F),
	}
	if h.Version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", h.Version)
	}
	if extra := int(h.Size)*4 - 4; extra > 0 {
		if _, err := r.Seek(int64(extra), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip extended header: %w", err)
		}
	}

	f := &Frame{Header: h}
	if f.hasSequence() {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		f.Sequence = int32(seq)
	}
	if f.hasEvent() {
		event, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		f.Event = EventType(event)
		if carriesSessionID(f.Event) {
			if f.SessionID, err = readSized(r); err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
		}
		if carriesConnectID(f.Event) {
			if f.ConnectID, err = readSized(r); err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
		}
	}
	if h.Type == ErrorMessage {
		code, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
		f.ErrorCode = code
	}

	size, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("read payload (%d bytes): %w", size, err)
		}
	}
	return f, nil
}

// FullRequest 构造携带 JSON 参数的首帧。
func FullRequest(payload []byte, comp Compression) *Frame {
	return &Frame{
		Header:  newHeader(FullClientRequest, NoSequence, JSONSerialization, comp),
		Payload: payload,
	}
}

// AudioRequest 构造音频帧；last 为 true 时序号取负表示结束。
func AudioRequest(audio []byte, seq int32, last bool, comp Compression) *Frame {
	flags := PositiveSequence
	switch {
	case last && seq != 0:
		flags = NegativeSequence
		seq = -seq
	case last:
		flags = LastNoSequence
	case seq <= 0:
		flags = NoSequence
	}
	return &Frame{
		Header:   newHeader(AudioOnlyRequest, flags, RawSerialization, comp),
		Sequence: seq,
		Payload:  audio,
	}
}

// Compress and Decompress apply the frame compression method to a payload.
func Compress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case NoCompression:
		return data, nil
	case GzipCompression:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("gzip write: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported compression %d", comp)
}

func Decompress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case NoCompression:
		return data, nil
	case GzipCompression:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return nil, fmt.Errorf("unsupported compression %d", comp)
}

func carriesSessionID(event EventType) bool {
	switch event {
	case EventStartConnection, EventFinishConnection,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return false
	}
	return true
}

func carriesConnectID(event EventType) bool {
	switch event {
	case EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	}
	return false
}

func appendSized(out []byte, s string) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
	return append(out, s...)
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readSized(r *bytes.Reader) (string, error) {
	size, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if int64(size) > int64(r.Len()) {
		return "", errors.New("field longer than frame")
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
