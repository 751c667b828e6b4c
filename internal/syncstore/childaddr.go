package syncstore

import (
	"fmt"
	"strconv"
	"strings"
)

// ChildAddressKind distinguishes where a factory's child-address location
// extracts from.
type ChildAddressKind int

const (
	ChildAddressTopic ChildAddressKind = iota
	ChildAddressOffset
)

// ParsedChildAddressLocation is the decomposed form of a location string
// like "topic2" or "offset32".
type ParsedChildAddressLocation struct {
	Kind        ChildAddressKind
	TopicIndex  int // 1, 2, or 3, valid when Kind == ChildAddressTopic
	ByteOffset  int // valid when Kind == ChildAddressOffset
}

// ParseChildAddressLocation parses "topic{1|2|3}" or "offsetN" per spec §3.
func ParseChildAddressLocation(loc string) (ParsedChildAddressLocation, error) {
	switch {
	case strings.HasPrefix(loc, "topic"):
		n, err := strconv.Atoi(strings.TrimPrefix(loc, "topic"))
		if err != nil || n < 1 || n > 3 {
			return ParsedChildAddressLocation{}, fmt.Errorf("syncstore: invalid topic child address location %q", loc)
		}
		return ParsedChildAddressLocation{Kind: ChildAddressTopic, TopicIndex: n}, nil
	case strings.HasPrefix(loc, "offset"):
		n, err := strconv.Atoi(strings.TrimPrefix(loc, "offset"))
		if err != nil || n < 0 {
			return ParsedChildAddressLocation{}, fmt.Errorf("syncstore: invalid offset child address location %q", loc)
		}
		return ParsedChildAddressLocation{Kind: ChildAddressOffset, ByteOffset: n}, nil
	default:
		return ParsedChildAddressLocation{}, fmt.Errorf("syncstore: unrecognized child address location %q", loc)
	}
}

// ExtractChildAddress pulls the 20-byte child address out of a log's topics
// or data per the parsed location: the last 20 bytes of a 32-byte topic, or
// 20 bytes at byte offset 12+N within data.
func ExtractChildAddress(loc ParsedChildAddressLocation, topics [4]string, data []byte) (string, error) {
	switch loc.Kind {
	case ChildAddressTopic:
		var topic string
		switch loc.TopicIndex {
		case 1:
			topic = topics[1]
		case 2:
			topic = topics[2]
		case 3:
			topic = topics[3]
		}
		topic = strings.TrimPrefix(topic, "0x")
		if len(topic) != 64 {
			return "", fmt.Errorf("syncstore: topic%d has unexpected length %d", loc.TopicIndex, len(topic))
		}
		return "0x" + topic[24:], nil
	case ChildAddressOffset:
		start := 12 + loc.ByteOffset
		if start+20 > len(data) {
			return "", fmt.Errorf("syncstore: data too short for offset %d (len %d)", loc.ByteOffset, len(data))
		}
		return "0x" + fmt.Sprintf("%x", data[start:start+20]), nil
	default:
		return "", fmt.Errorf("syncstore: unknown child address kind")
	}
}

// ChildAddressHexOffset returns the 1-indexed Postgres substring() starting
// position within encode(data, 'hex') for an offset-kind location, so the
// correlated subquery in the postgres driver can extract the same 20 bytes
// in SQL instead of Go.
func ChildAddressHexOffset(loc ParsedChildAddressLocation) int {
	return 2*(12+loc.ByteOffset) + 1
}
