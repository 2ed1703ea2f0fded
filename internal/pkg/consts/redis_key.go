package consts

const (
	// IMUserKey 用户个人推送频道前缀，Pub/Sub 使用
	IMUserKey = "im:user:"
	// IMOnlineKey 用户在线连接计数前缀
	IMOnlineKey = "im:online:"
)
