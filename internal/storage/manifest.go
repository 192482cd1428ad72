package storage

import (
	"google.golang.org/protobuf/encoding/protowire"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// Manifest field numbers.
const (
	manifestStreamField protowire.Number = 1

	streamBlockField  protowire.Number = 1
	streamLevelField  protowire.Number = 2
	streamOffsetField protowire.Number = 3
	streamLengthField protowire.Number = 4
)

func marshalManifest(streams []StreamInfo) []byte {
	var buf []byte
	for _, s := range streams {
		var msg []byte
		msg = protowire.AppendTag(msg, streamBlockField, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(s.Block))
		msg = protowire.AppendTag(msg, streamLevelField, protowire.VarintType)
		msg = protowire.AppendVarint(msg, protowire.EncodeZigZag(int64(s.Level)))
		msg = protowire.AppendTag(msg, streamOffsetField, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(s.Offset))
		msg = protowire.AppendTag(msg, streamLengthField, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(s.Length))

		buf = protowire.AppendTag(buf, manifestStreamField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg)
	}
	return buf
}

func unmarshalManifest(buf []byte) ([]StreamInfo, error) {
	var streams []StreamInfo
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, mdrerrors.NewCorruption("manifest tag: %v", protowire.ParseError(n))
		}
		buf = buf[n:]

		if num != manifestStreamField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, mdrerrors.NewCorruption("manifest field %d: %v", num, protowire.ParseError(n))
			}
			buf = buf[n:]
			continue
		}

		msg, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, mdrerrors.NewCorruption("manifest stream: %v", protowire.ParseError(n))
		}
		buf = buf[n:]

		s, err := unmarshalStream(msg)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}
	return streams, nil
}

func unmarshalStream(msg []byte) (StreamInfo, error) {
	var s StreamInfo
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return s, mdrerrors.NewCorruption("stream tag: %v", protowire.ParseError(n))
		}
		msg = msg[n:]

		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return s, mdrerrors.NewCorruption("stream field %d: %v", num, protowire.ParseError(n))
			}
			msg = msg[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(msg)
		if n < 0 {
			return s, mdrerrors.NewCorruption("stream field %d: %v", num, protowire.ParseError(n))
		}
		msg = msg[n:]

		switch num {
		case streamBlockField:
			s.Block = int(v)
		case streamLevelField:
			s.Level = int(protowire.DecodeZigZag(v))
		case streamOffsetField:
			s.Offset = int64(v)
		case streamLengthField:
			s.Length = int64(v)
		}
	}
	if s.Offset < 0 || s.Length < 0 {
		return s, mdrerrors.NewCorruption("stream block %d level %d: negative extent", s.Block, s.Level)
	}
	return s, nil
}
