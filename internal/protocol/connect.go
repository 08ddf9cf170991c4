package protocol

// 已知的客戶端擴充名稱
const (
	ModBeatUpOutdated = "BeatUpClient beta0"
	ModBeatUp         = "BeatUpClient beta1"
)

// ConnectBlockSize 回報給擴充客戶端的分享區塊大小
const ConnectBlockSize = 398

// Mod 連線請求附帶的擴充區塊；Data 由該擴充自行解讀
type Mod struct {
	Name string `msgpack:"name"`
	Data []byte `msgpack:"data,omitempty"`
}

// ConnectRequest 連線請求（ConnectRequest 封包的 payload）
type ConnectRequest struct {
	ProtocolID      uint32 `msgpack:"protocol_id"`
	ProtocolVersion uint8  `msgpack:"protocol_version"`
	ConnectTime     int64  `msgpack:"connect_time"`
	Secret          string `msgpack:"secret"`
	UserID          string `msgpack:"user_id"`
	Mods            []Mod  `msgpack:"mods,omitempty"`
}

// ConnectInfo 擴充客戶端協商的連線參數
//
// CountdownDuration 以 1/4 秒為單位。
type ConnectInfo struct {
	ProtocolID          uint32 `msgpack:"protocol_id"`
	BlockSize           uint32 `msgpack:"block_size,omitempty"`
	WindowSize          uint32 `msgpack:"window_size"`
	CountdownDuration   uint8  `msgpack:"countdown_duration"`
	DirectDownloads     bool   `msgpack:"direct_downloads"`
	SkipResults         bool   `msgpack:"skip_results"`
	PerPlayerDifficulty bool   `msgpack:"per_player_difficulty"`
	PerPlayerModifiers  bool   `msgpack:"per_player_modifiers"`
}

// ConnectAccept 接受連線（ConnectAccept 封包的 payload）
type ConnectAccept struct {
	ConnectTime int64       `msgpack:"connect_time"`
	PeerID      uint8       `msgpack:"peer_id"`
	BeatUp      ConnectInfo `msgpack:"beat_up"`
}
