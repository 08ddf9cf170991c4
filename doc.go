// Package rhythmsession 是節奏遊戲多人連線的房間伺服器。
//
// 玩家由配對服務分配到某個房間後，直接以 UDP 連上房間所在的分區，
// 之後大廳選曲、載入、遊戲中的分數同步與結算都在這條連線上完成。
//
// # 分層
//
//   - transport：每個連線的可靠/有序通道、確認、重送、分片重組
//   - protocol：封包路由標頭與 msgpack 編碼的訊息、RPC
//   - room：房間狀態機、玩家投影、選曲與權限
//   - partition：分區內的房間槽位、世代檢查的 handle、截止時間堆積
//   - status：HTTP 管理介面與 WebSocket 事件推送
//   - directory、announce：房間目錄（Redis）與房間公告（NATS）
//
// # 併發
//
// 每個分區一把鎖、一個 UDP socket。分區內的房間與連線都在這把鎖下處理，
// 房間本身不持有鎖；分區之間完全獨立，靠增加分區擴充。
//
// # 啟動
//
//	go run ./cmd/server -config config.yaml -log-level debug
//
// 設定檔未提供的欄位使用預設值，REDIS_ADDR、NATS_URL 等環境變數可以覆蓋設定檔。
// 沒有設定 Redis 或 NATS 時，對應的目錄與公告不會啟用。
package rhythmsession
