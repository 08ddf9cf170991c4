package room

// Phase 房間 / 玩家的階段（位元旗標，每個階段一個位元）
//
// 階段之間的比較以類別遮罩進行：
//
//	Lobby     = Idle | Entitlement | Selected
//	Selected  = Ready | Countdown | Downloading
//	Countdown = LongCountdown | ShortCountdown
//	Game      = LoadingScene | LoadingSong | Gameplay | Results
//	Connected = Lobby | Synchronizing | Game
//	Timeout   = Countdown | LoadingScene | LoadingSong | Results
//
// 逾時的階段前進到下一個位元（phase << 1），Results 逾時回到 Idle。
type Phase uint16

const (
	PhaseIdle           Phase = 1 << 0
	PhaseEntitlement    Phase = 1 << 1
	PhaseReady          Phase = 1 << 2
	PhaseLongCountdown  Phase = 1 << 3
	PhaseShortCountdown Phase = 1 << 4
	PhaseDownloading    Phase = 1 << 5
	PhaseSynchronizing  Phase = 1 << 6
	PhaseLoadingScene   Phase = 1 << 7
	PhaseLoadingSong    Phase = 1 << 8
	PhaseGameplay       Phase = 1 << 9
	PhaseResults        Phase = 1 << 10

	PhaseCountdown = PhaseLongCountdown | PhaseShortCountdown
	PhaseSelected  = PhaseReady | PhaseCountdown | PhaseDownloading
	PhaseLobby     = PhaseIdle | PhaseEntitlement | PhaseSelected
	PhaseGame      = PhaseLoadingScene | PhaseLoadingSong | PhaseGameplay | PhaseResults
	PhaseConnected = PhaseLobby | PhaseSynchronizing | PhaseGame
	PhaseTimeout   = PhaseCountdown | PhaseLoadingScene | PhaseLoadingSong | PhaseResults
)

// In 是否屬於類別
func (p Phase) In(category Phase) bool {
	return p&category != 0
}

// next 逾時後的下一個階段
func (p Phase) next() Phase {
	if p == PhaseResults {
		return PhaseIdle
	}
	return p << 1
}

func (p Phase) String() string {
	switch p {
	case 0:
		return "(none)"
	case PhaseIdle:
		return "Lobby.Idle"
	case PhaseEntitlement:
		return "Lobby.Entitlement"
	case PhaseReady:
		return "Lobby.Ready"
	case PhaseLongCountdown:
		return "Lobby.LongCountdown"
	case PhaseShortCountdown:
		return "Lobby.ShortCountdown"
	case PhaseDownloading:
		return "Lobby.Downloading"
	case PhaseSynchronizing:
		return "Synchronizing"
	case PhaseLoadingScene:
		return "Game.LoadingScene"
	case PhaseLoadingSong:
		return "Game.LoadingSong"
	case PhaseGameplay:
		return "Game.Gameplay"
	case PhaseResults:
		return "Game.Results"
	}
	return "???"
}

// edge from → to 是否進入 category
func edge(from, to, category Phase) bool {
	return to.In(category) && !from.In(category)
}
