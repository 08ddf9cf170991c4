package transport

import (
	"errors"
	"fmt"
)

// MaxFragments 單一訊息最多切成幾片
const MaxFragments = 1024

// ErrFragmentMismatch 同一組分片宣告的總數不一致，或片號超出範圍
var ErrFragmentMismatch = errors.New("transport: fragment set mismatch")

type fragmentKey struct {
	id      uint16
	channel Channel
}

type fragmentSet struct {
	total uint16
	count uint16
	size  int
	parts [][]byte
}

// reassembler 分片重組
//
// 未收齊的分片組不會自動過期，只有 reset（連線重置或關閉）時清除。
type reassembler struct {
	sets map[fragmentKey]*fragmentSet
}

func newReassembler() *reassembler {
	return &reassembler{sets: make(map[fragmentKey]*fragmentSet)}
}

// add 加入一片；收齊時回傳完整訊息
func (r *reassembler) add(p Packet) ([]byte, bool, error) {
	key := fragmentKey{id: p.FragmentID, channel: p.Channel}
	if p.FragmentsTotal == 0 || p.FragmentsTotal > MaxFragments || p.FragmentPart >= p.FragmentsTotal {
		delete(r.sets, key)
		return nil, false, fmt.Errorf("%w: part %d of %d", ErrFragmentMismatch, p.FragmentPart, p.FragmentsTotal)
	}

	set, ok := r.sets[key]
	if !ok {
		set = &fragmentSet{
			total: p.FragmentsTotal,
			parts: make([][]byte, p.FragmentsTotal),
		}
		r.sets[key] = set
	} else if set.total != p.FragmentsTotal {
		delete(r.sets, key)
		return nil, false, fmt.Errorf("%w: total %d, previously %d", ErrFragmentMismatch, p.FragmentsTotal, set.total)
	}

	if set.parts[p.FragmentPart] != nil {
		return nil, false, nil
	}
	set.parts[p.FragmentPart] = append(make([]byte, 0, len(p.Payload)), p.Payload...)
	set.count++
	set.size += len(p.Payload)
	if set.count < set.total {
		return nil, false, nil
	}

	delete(r.sets, key)
	out := make([]byte, 0, set.size)
	for _, part := range set.parts {
		out = append(out, part...)
	}
	return out, true, nil
}

func (r *reassembler) pending() int {
	return len(r.sets)
}

func (r *reassembler) reset() {
	clear(r.sets)
}
