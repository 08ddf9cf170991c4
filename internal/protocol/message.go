// Package protocol 定義房間與客戶端之間的應用層訊息
//
// 每個可靠通道上的 payload 是一個 frame：
//
//	[remote connection id][connection id][encrypted] + Codec 編碼的 []Message
//
// 路由標頭固定三個位元組，不經過 Codec，房間轉送時只改寫標頭，內容原封不動。
package protocol

// BroadcastConnectionID 路由標頭中代表「房間內所有其他玩家」的連線 id
const BroadcastConnectionID = 127

// Routing 路由標頭
//
// RemoteConnectionID 是訊息來源（0 代表伺服器，n 代表 slot n-1 的玩家）；
// ConnectionID 是目的地（0 代表伺服器，127 代表廣播）。
type Routing struct {
	RemoteConnectionID uint8
	ConnectionID       uint8
	Encrypted          bool
}

// ServerRouting 伺服器送給單一玩家
var ServerRouting = Routing{}

// ServerBroadcastRouting 伺服器送出、客戶端視為廣播
var ServerBroadcastRouting = Routing{ConnectionID: BroadcastConnectionID}

// FromPlayer 代表某個玩家送出的路由標頭
func FromPlayer(slot int) Routing {
	return Routing{RemoteConnectionID: uint8(slot + 1)}
}

// MessageType 內部訊息種類
type MessageType uint8

const (
	TypeSyncTime MessageType = iota
	TypePlayerConnected
	TypePlayerIdentity
	TypePlayerLatencyUpdate
	TypePlayerDisconnected
	TypePlayerSortOrderUpdate
	TypeParty
	TypeMultiplayerSession
	TypeKickPlayer
	TypePlayerStateUpdate
	TypePlayerAvatarUpdate
	TypePingMessage
	TypePongMessage
)

var messageTypeNames = [...]string{
	"SyncTime", "PlayerConnected", "PlayerIdentity", "PlayerLatencyUpdate",
	"PlayerDisconnected", "PlayerSortOrderUpdate", "Party", "MultiplayerSession",
	"KickPlayer", "PlayerStateUpdate", "PlayerAvatarUpdate", "PingMessage", "PongMessage",
}

func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return "Unknown"
}

// SessionType MultiplayerSession 的子類型
type SessionType uint8

const (
	SessionMenuRPC SessionType = iota
	SessionGameplayRPC
	SessionNodePoseSyncState
	SessionScoreSyncState
	SessionNodePoseSyncStateDelta
	SessionScoreSyncStateDelta
	SessionMpCore
	SessionBeatUp
)

// DisconnectedReason 斷線原因
type DisconnectedReason uint8

const (
	DisconnectedUnknown DisconnectedReason = iota
	DisconnectedUserInitiated
	DisconnectedTimeout
	DisconnectedKicked
	DisconnectedServerAtCapacity
	DisconnectedServerShutDown
	DisconnectedMasterServerUnreachable
	DisconnectedClientConnectionClosed
	DisconnectedNetworkDisconnected
	DisconnectedServerConnectionClosed
)

// PlayerConnected 通知有玩家加入
type PlayerConnected struct {
	RemoteConnectionID uint8  `msgpack:"remote_connection_id"`
	UserID             string `msgpack:"user_id"`
	UserName           string `msgpack:"user_name"`
	IsConnectionOwner  bool   `msgpack:"is_connection_owner"`
}

// PlayerSortOrder 玩家排序位置
type PlayerSortOrder struct {
	UserID    string `msgpack:"user_id"`
	SortIndex int32  `msgpack:"sort_index"`
}

// PlayerIdentity 玩家身分：能力摘要、外觀、金鑰材料
type PlayerIdentity struct {
	State     StateHash `msgpack:"state"`
	Avatar    []byte    `msgpack:"avatar,omitempty"`
	Random    []byte    `msgpack:"random,omitempty"`
	PublicKey []byte    `msgpack:"public_key,omitempty"`
}

// Message 內部訊息（依 Type 使用對應欄位）
type Message struct {
	Type    MessageType `msgpack:"type"`
	Session SessionType `msgpack:"session,omitempty"`

	SyncTime  float32            `msgpack:"sync_time,omitempty"`
	Connected *PlayerConnected   `msgpack:"connected,omitempty"`
	Identity  *PlayerIdentity    `msgpack:"identity,omitempty"`
	Latency   float32            `msgpack:"latency,omitempty"`
	Reason    DisconnectedReason `msgpack:"reason,omitempty"`
	SortOrder *PlayerSortOrder   `msgpack:"sort_order,omitempty"`
	State     *StateHash         `msgpack:"state,omitempty"`
	PingTime  float32            `msgpack:"ping_time,omitempty"`

	Menu     *MenuRPC     `msgpack:"menu,omitempty"`
	Gameplay *GameplayRPC `msgpack:"gameplay,omitempty"`
	BeatUp   *BeatUp      `msgpack:"beat_up,omitempty"`

	// Opaque 伺服器不解讀的內容（姿態同步、分數同步、MpCore、Party…）
	Opaque []byte `msgpack:"opaque,omitempty"`
}

// SyncTimeMessage 同步時鐘
func SyncTimeMessage(t float32) Message {
	return Message{Type: TypeSyncTime, SyncTime: t}
}

// PongMessage 回應 PingMessage
func PongMessage(pingTime float32) Message {
	return Message{Type: TypePongMessage, PingTime: pingTime}
}

// PlayerConnectedMessage 玩家加入通知
func PlayerConnectedMessage(p PlayerConnected) Message {
	return Message{Type: TypePlayerConnected, Connected: &p}
}

// PlayerDisconnectedMessage 玩家離開通知
func PlayerDisconnectedMessage(reason DisconnectedReason) Message {
	return Message{Type: TypePlayerDisconnected, Reason: reason}
}

// SortOrderMessage 玩家排序
func SortOrderMessage(userID string, index int) Message {
	return Message{Type: TypePlayerSortOrderUpdate, SortOrder: &PlayerSortOrder{UserID: userID, SortIndex: int32(index)}}
}

// IdentityMessage 玩家身分
func IdentityMessage(id PlayerIdentity) Message {
	return Message{Type: TypePlayerIdentity, Identity: &id}
}

// LatencyMessage 延遲更新
func LatencyMessage(latency float32) Message {
	return Message{Type: TypePlayerLatencyUpdate, Latency: latency}
}

// KickMessage 踢出通知
func KickMessage(reason DisconnectedReason) Message {
	return Message{Type: TypeKickPlayer, Reason: reason}
}

// MenuMessage 包裝 MenuRPC
func MenuMessage(rpc MenuRPC) Message {
	return Message{Type: TypeMultiplayerSession, Session: SessionMenuRPC, Menu: &rpc}
}

// GameplayMessage 包裝 GameplayRPC
func GameplayMessage(rpc GameplayRPC) Message {
	return Message{Type: TypeMultiplayerSession, Session: SessionGameplayRPC, Gameplay: &rpc}
}

// BeatUpMessage 包裝擴充訊息
func BeatUpMessage(m BeatUp) Message {
	return Message{Type: TypeMultiplayerSession, Session: SessionBeatUp, BeatUp: &m}
}
