package protocol

// 客戶端在 StateHash 宣告的旗標
const (
	FlagWantsToPlayNextLevel = "wants_to_play_next_level"
	FlagModded               = "modded"
)

// ServerStateHash 伺服器身分使用的固定能力摘要
var ServerStateHash = StateHash{D0: 288266110296588352, D1: 576531121051926529}

// StateHash 客戶端旗標的 128 位元 bloom filter
//
// 有偽陽性、沒有偽陰性。雜湊與位元選擇必須與客戶端完全一致，
// 否則舊版客戶端送來的旗標會判斷錯誤。
type StateHash struct {
	D0 uint64 `msgpack:"d0"`
	D1 uint64 `msgpack:"d1"`
}

const murmurM = 1540483477

// keyHash 客戶端使用的 MurmurHash2 變形（seed = 0x21）
func keyHash(key string) uint32 {
	n := uint32(len(key))
	hash := 0x21 ^ n
	i := 0
	for ; n >= 4; n -= 4 {
		k := uint32(key[i]) | uint32(key[i+1])<<8 | uint32(key[i+2])<<16 | uint32(key[i+3])<<24
		k *= murmurM
		k ^= k >> 24
		k *= murmurM
		hash *= murmurM
		hash ^= k
		i += 4
	}
	switch n {
	case 3:
		hash ^= uint32(key[i+2]) << 16
		fallthrough
	case 2:
		hash ^= uint32(key[i+1]) << 8
		fallthrough
	case 1:
		hash ^= uint32(key[i])
		hash *= murmurM
	}
	hash ^= hash >> 13
	hash *= murmurM
	hash ^= hash >> 15
	return hash
}

// probe 第 i 次探測的位元：64 以上落在 D0，以下落在 D1
func probe(hash uint32) (word int, bit uint) {
	ind := uint(hash % 128)
	if ind >= 64 {
		return 0, ind - 64
	}
	return 1, ind
}

// Contains 旗標是否（可能）存在
func (h StateHash) Contains(key string) bool {
	hash := keyHash(key)
	words := [2]uint64{h.D0, h.D1}
	for range 3 {
		w, bit := probe(hash)
		if (words[w]>>bit)&1 == 0 {
			return false
		}
		hash >>= 8
	}
	return true
}

// Add 加入旗標
func (h *StateHash) Add(key string) {
	hash := keyHash(key)
	for range 3 {
		w, bit := probe(hash)
		if w == 0 {
			h.D0 |= 1 << bit
		} else {
			h.D1 |= 1 << bit
		}
		hash >>= 8
	}
}

// StateHashOf 由旗標建立摘要
func StateHashOf(keys ...string) StateHash {
	var h StateHash
	for _, k := range keys {
		h.Add(k)
	}
	return h
}
