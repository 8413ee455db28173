package session

// SessionManager 维护当前所有在线会话的索引。
//
// 职责说明：
//   - 只负责会话的注册、查询和移除，不直接创建或关闭底层连接；
//   - Session 的生命周期由接入层决定；
//   - 服务关闭时接入层通过 Range 关闭仍然在线的会话。
type SessionManager interface {
	// Register 注册一个会话，ID 重复时返回错误，不覆盖旧会话。
	Register(sess Session) error

	// Get 根据 session id 查找会话。
	Get(id uint64) (sess Session, ok bool)

	// Unregister 移除索引，不负责调用 sess.Close()。
	Unregister(id uint64) error

	// Range 遍历当前所有在线会话，fn 返回 false 时中断遍历。
	Range(fn func(sess Session) bool)

	// Count 返回当前已注册的会话数量。
	Count() int
}
