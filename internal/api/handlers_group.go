package api

import "Atrium/internal/api/handler"

// HandlersGroup 路由装配所需的全部 Handler
type HandlersGroup struct {
	IMHandler       *handler.IMHandler
	PresenceHandler *handler.PresenceHandler
	WsHandler       *handler.WsHandler
}
