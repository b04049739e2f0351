// Package guessinggame 提供多人即時猜謎遊戲的場次服務。
//
// 玩家透過 WebSocket 加入具名場次，其中一位出題並開始回合，
// 其他玩家在 60 秒內各有 3 次猜測機會；猜中或逾時即結束回合。
//
// # 場次狀態機
//
//	waiting → ready → in_progress → ended
//
// 每個場次一把互斥鎖，不同場次互不阻塞。回合計時器的回調重新取得
// 場次鎖並檢查狀態與回合編號，先結束回合的一方（猜中或逾時）獲勝。
// 最後一位玩家斷線時場次被刪除，之後以相同 ID 加入會得到全新的場次。
//
// # 事件
//
// 入站：join-session、create-question、start-game、make-guess。
// 出站：session-update、question-created、game-started、game-ended、wrong-guess。
// 封包格式：{"event": "...", "data": {...}}。
//
// # 外部依賴
//
//   - PostgreSQL：使用者與累積分數（users 資料表，嵌入式遷移）
//   - Redis：排行榜 Sorted Set
//   - NATS JetStream：回合結果事件流
//
// 三者皆可關閉；PostgreSQL 關閉時改用記憶體儲存。
// 加分、排行榜與結果發布透過副作用佇列在狀態轉換之後執行，
// 失敗只記錄日誌，不影響遊戲狀態。
//
// # 使用範例
//
//	sessions := internal.NewSessionStore(logger)
//	effects := internal.NewEffectQueue(scores, logger)
//	hub := internal.NewWebSocketHub(cfg.WebSocket, logger)
//	engine := internal.NewEngine(sessions, users, hub, effects, logger)
//	hub.SetHandler(internal.NewDispatcher(engine, logger))
//
//	http.ListenAndServe(":8080", internal.NewHandler(engine, hub, board, logger).Routes())
package guessinggame
