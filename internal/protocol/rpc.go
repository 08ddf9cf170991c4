package protocol

import "fmt"

// MenuRPCType 大廳 RPC 種類
type MenuRPCType uint8

const (
	SetPlayersMissingEntitlementsToLevel MenuRPCType = iota
	GetIsEntitledToLevel
	SetIsEntitledToLevel
	InvalidateLevelEntitlementStatuses
	SelectLevelPack
	SetSelectedBeatmap
	GetSelectedBeatmap
	RecommendBeatmap
	ClearRecommendedBeatmap
	GetRecommendedBeatmap
	SetSelectedGameplayModifiers
	GetSelectedGameplayModifiers
	RecommendGameplayModifiers
	ClearRecommendedGameplayModifiers
	GetRecommendedGameplayModifiers
	LevelLoadError
	LevelLoadSuccess
	StartLevel
	GetStartedLevel
	CancelLevelStart
	GetMultiplayerGameState
	SetMultiplayerGameState
	GetIsReady
	SetIsReady
	SetStartGameTime
	CancelStartGameTime
	GetIsInLobby
	SetIsInLobby
	GetCountdownEndTime
	SetCountdownEndTime
	CancelCountdown
	GetOwnedSongPacks
	SetOwnedSongPacks
	RequestKickPlayer
	GetPermissionConfiguration
	SetPermissionConfiguration
	GetIsStartButtonEnabled
	SetIsStartButtonEnabled
)

var menuRPCNames = [...]string{
	"SetPlayersMissingEntitlementsToLevel", "GetIsEntitledToLevel", "SetIsEntitledToLevel",
	"InvalidateLevelEntitlementStatuses", "SelectLevelPack", "SetSelectedBeatmap",
	"GetSelectedBeatmap", "RecommendBeatmap", "ClearRecommendedBeatmap", "GetRecommendedBeatmap",
	"SetSelectedGameplayModifiers", "GetSelectedGameplayModifiers", "RecommendGameplayModifiers",
	"ClearRecommendedGameplayModifiers", "GetRecommendedGameplayModifiers", "LevelLoadError",
	"LevelLoadSuccess", "StartLevel", "GetStartedLevel", "CancelLevelStart",
	"GetMultiplayerGameState", "SetMultiplayerGameState", "GetIsReady", "SetIsReady",
	"SetStartGameTime", "CancelStartGameTime", "GetIsInLobby", "SetIsInLobby",
	"GetCountdownEndTime", "SetCountdownEndTime", "CancelCountdown", "GetOwnedSongPacks",
	"SetOwnedSongPacks", "RequestKickPlayer", "GetPermissionConfiguration",
	"SetPermissionConfiguration", "GetIsStartButtonEnabled", "SetIsStartButtonEnabled",
}

func (t MenuRPCType) String() string {
	if int(t) < len(menuRPCNames) {
		return menuRPCNames[t]
	}
	return fmt.Sprintf("MenuRPCType(%d)", uint8(t))
}

// GameplayRPCType 遊戲中 RPC 種類
type GameplayRPCType uint8

const (
	SetGameplaySceneSyncFinish GameplayRPCType = iota
	SetGameplaySceneReady
	GetGameplaySceneReady
	SetActivePlayerFailedToConnect
	SetGameplaySongReady
	GetGameplaySongReady
	SetSongStartTime
	NoteCut
	NoteMissed
	LevelFinished
	ReturnToMenu
	RequestReturnToMenu
	NoteSpawned
	ObstacleSpawned
	SliderSpawned
)

var gameplayRPCNames = [...]string{
	"SetGameplaySceneSyncFinish", "SetGameplaySceneReady", "GetGameplaySceneReady",
	"SetActivePlayerFailedToConnect", "SetGameplaySongReady", "GetGameplaySongReady",
	"SetSongStartTime", "NoteCut", "NoteMissed", "LevelFinished", "ReturnToMenu",
	"RequestReturnToMenu", "NoteSpawned", "ObstacleSpawned", "SliderSpawned",
}

func (t GameplayRPCType) String() string {
	if int(t) < len(gameplayRPCNames) {
		return gameplayRPCNames[t]
	}
	return fmt.Sprintf("GameplayRPCType(%d)", uint8(t))
}

// EntitlementStatus 玩家對歌曲的擁有狀態
type EntitlementStatus uint8

const (
	EntitlementUnknown EntitlementStatus = iota
	EntitlementNotOwned
	EntitlementNotDownloaded
	EntitlementOk
)

func (s EntitlementStatus) String() string {
	switch s {
	case EntitlementNotOwned:
		return "NotOwned"
	case EntitlementNotDownloaded:
		return "NotDownloaded"
	case EntitlementOk:
		return "Ok"
	}
	return "Unknown"
}

// CannotStartReason 開始按鈕停用原因（僅供 UI 顯示）
type CannotStartReason uint8

const (
	CannotStartNone CannotStartReason = iota
	CannotStartAllPlayersSpectating
	CannotStartNoSongSelected
	CannotStartAllPlayersNotInLobby
	CannotStartDoNotOwnSong
)

// GameState 客戶端的大廳 / 遊戲狀態
type GameState uint8

const (
	GameStateNone GameState = iota
	GameStateLobby
	GameStateGame
)

// LevelEndState 舊版客戶端（protocol version < 7）回報的結束狀態
type LevelEndState uint8

const (
	LevelEndCleared LevelEndState = iota
	LevelEndFailed
	LevelEndGivenUp
	LevelEndWasInactive
	LevelEndStartupFailed
	LevelEndHostEndedLevel
	LevelEndConnectedAfterLevelEnded
	LevelEndQuit
)

// LevelEndReason 新版客戶端回報的結束原因
type LevelEndReason uint8

const (
	LevelEndReasonCleared LevelEndReason = iota
	LevelEndReasonFailed
	LevelEndReasonGivenUp
	LevelEndReasonQuit
	LevelEndReasonHostEndedLevel
	LevelEndReasonWasInactive
	LevelEndReasonStartupFailed
	LevelEndReasonConnectedAfterLevelEnded
)

// Beatmap 歌曲譜面識別
type Beatmap struct {
	LevelID        string `msgpack:"level_id"`
	Characteristic string `msgpack:"characteristic"`
	Difficulty     uint32 `msgpack:"difficulty"`
}

// IsZero 沒有推薦 / 沒有選曲（以 characteristic 是否為空判斷）
func (b Beatmap) IsZero() bool {
	return b.Characteristic == ""
}

// Equal 比較兩個譜面；ignoreDifficulty 時只比較 LevelID
func (b Beatmap) Equal(o Beatmap, ignoreDifficulty bool) bool {
	if b.LevelID != o.LevelID {
		return false
	}
	return ignoreDifficulty || (b.Characteristic == o.Characteristic && b.Difficulty == o.Difficulty)
}

// Modifiers 遊戲修飾旗標
type Modifiers uint32

// RequiredModifierMask 所有玩家必須一致的修飾位元（歌曲速度）
const RequiredModifierMask Modifiers = 15 << 18

// Equal 比較修飾；optional=false 時只比較必須一致的位元
func (m Modifiers) Equal(o Modifiers, optional bool) bool {
	mask := RequiredModifierMask
	if optional {
		mask = ^Modifiers(0)
	}
	return (m^o)&mask == 0
}

// PlayerSettings 玩家開局時的個人設定
type PlayerSettings struct {
	UserID                string  `msgpack:"user_id"`
	UserName              string  `msgpack:"user_name"`
	LeftHanded            bool    `msgpack:"left_handed"`
	AutomaticPlayerHeight bool    `msgpack:"automatic_player_height"`
	PlayerHeight          float32 `msgpack:"player_height"`
	HeadPosToHeightOffset float32 `msgpack:"head_pos_to_height_offset"`
	ColorScheme           []byte  `msgpack:"color_scheme,omitempty"`
}

// PlayerPermissions 單一玩家的權限
type PlayerPermissions struct {
	UserID             string `msgpack:"user_id"`
	IsServerOwner      bool   `msgpack:"is_server_owner"`
	RecommendBeatmaps  bool   `msgpack:"recommend_beatmaps"`
	RecommendModifiers bool   `msgpack:"recommend_modifiers"`
	KickVote           bool   `msgpack:"kick_vote"`
	Invite             bool   `msgpack:"invite"`
}

// LevelResults 關卡結束時的成績摘要（伺服器只讀取結束狀態）
type LevelResults struct {
	EndState  LevelEndState  `msgpack:"end_state"`
	EndReason LevelEndReason `msgpack:"end_reason"`
	Score     int32          `msgpack:"score,omitempty"`
}

// MenuRPC 大廳 RPC（依 Type 使用對應欄位）
type MenuRPC struct {
	Type     MenuRPCType `msgpack:"type"`
	SyncTime float32     `msgpack:"sync_time"`

	LevelID     string              `msgpack:"level_id,omitempty"`
	Entitlement EntitlementStatus   `msgpack:"entitlement,omitempty"`
	Beatmap     *Beatmap            `msgpack:"beatmap,omitempty"`
	Modifiers   *Modifiers          `msgpack:"modifiers,omitempty"`
	StartTime   float32             `msgpack:"start_time,omitempty"`
	NewTime     float32             `msgpack:"new_time,omitempty"`
	GameState   GameState           `msgpack:"game_state,omitempty"`
	Value       *bool               `msgpack:"value,omitempty"`
	Reason      CannotStartReason   `msgpack:"reason,omitempty"`
	UserID      string              `msgpack:"user_id,omitempty"`
	UserIDs     []string            `msgpack:"user_ids,omitempty"`
	Permissions []PlayerPermissions `msgpack:"permissions,omitempty"`
}

// GameplayRPC 遊戲中 RPC（依 Type 使用對應欄位）
type GameplayRPC struct {
	Type     GameplayRPCType `msgpack:"type"`
	SyncTime float32         `msgpack:"sync_time"`

	Settings      *PlayerSettings  `msgpack:"settings,omitempty"`
	SessionGameID string           `msgpack:"session_game_id,omitempty"`
	FailedUserID  string           `msgpack:"failed_user_id,omitempty"`
	Players       []PlayerSettings `msgpack:"players,omitempty"`
	StartTime     float32          `msgpack:"start_time,omitempty"`
	Results       *LevelResults    `msgpack:"results,omitempty"`
}

// BeatUpType 客戶端擴充訊息種類
type BeatUpType uint8

const (
	BeatUpConnectInfo BeatUpType = iota
	BeatUpRecommendPreview
	BeatUpShareInfo
	BeatUpDataFragmentRequest
	BeatUpDataFragment
	BeatUpLoadProgress
)

// ShareableBeatmapSet 分享內容為整個譜面集
const ShareableBeatmapSet uint8 = 2

// ShareInfo 內容分享提示
type ShareInfo struct {
	Usage      uint8  `msgpack:"usage"`
	Name       string `msgpack:"name"`
	MimeType   string `msgpack:"mime_type,omitempty"`
	ByteLength uint32 `msgpack:"byte_length"`
}

// BeatUp 客戶端擴充訊息
type BeatUp struct {
	Type  BeatUpType `msgpack:"type"`
	Share *ShareInfo `msgpack:"share,omitempty"`
	Data  []byte     `msgpack:"data,omitempty"`
}

// Bool 取得 *bool 指標
func Bool(v bool) *bool { return &v }
